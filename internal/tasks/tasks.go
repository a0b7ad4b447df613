package tasks

const (
	TypeOrderExecution = "order:execute"

	QUEUE_NAME = "chronoswap_queue"
)
