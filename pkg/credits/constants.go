package credits

const (
	operationDebit  = "debit"
	operationCredit = "credit"
	operationAction = "action"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorSubjectTransaction = "transaction"
	errorCodeAppend         = "append"

	monthlyGrantKeyPrefix = "subscription"
	monthlyGrantKeyLayout = "2006-01"

	// DefaultHistoryLimit bounds transaction listings when the caller does
	// not supply a limit.
	DefaultHistoryLimit = 50
)
