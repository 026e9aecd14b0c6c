package constant

const (
	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"

	ExecutionStreamName                 = "execution"
	ExecutionStreamSubjectAll           = "execution.*"
	ExecutionStreamSubjectOrderExecuted = "execution.order_executed"
)
