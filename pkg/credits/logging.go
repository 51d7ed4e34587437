package credits

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation    string
	UserID       UserID
	Amount       Amount
	Type         TransactionType
	BalanceAfter int64
	Metadata     MetadataJSON
	Status       string
	Error        error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithCostSchedule overrides the default cost table.
func WithCostSchedule(schedule CostSchedule) ServiceOption {
	return func(service *Service) {
		if len(schedule) > 0 {
			service.costs = schedule
		}
	}
}

// WithPlanTable overrides the default plan configuration.
func WithPlanTable(table PlanTable) ServiceOption {
	return func(service *Service) {
		if len(table) > 0 {
			service.plans = table
		}
	}
}
