package app

// StopReason is logged on shutdown.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopImportDone StopReason = "import_done"
)
