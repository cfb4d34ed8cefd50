package eventbus

// Event types published by the recorder.
const (
	TypeRosterLoaded   = "roster.loaded"
	TypeRosterRejected = "roster.rejected"
	TypeTriggersArmed  = "triggers.armed"
	TypeTriggerFired   = "trigger.fired"
	TypeSessionState   = "session.state"
	TypeUploadDone     = "upload.done"
	TypeUploadFailed   = "upload.failed"
	TypeSweepDone      = "housekeeping.sweep"
	TypeConfigReloaded = "config.reloaded"
)
