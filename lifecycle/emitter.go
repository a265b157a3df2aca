package lifecycle

// EventEmitter is the interface the lifecycle package uses to emit events.
type EventEmitter interface {
	EmitStateChanged(key VehicleKey, oldState, newState string)
	EmitExitPassIssued(pass *ExitPass)
	EmitExitConfirmed(pass *ExitPass)
	EmitExitPassClosed(pass *ExitPass)
}

type nopEmitter struct{}

func (nopEmitter) EmitStateChanged(VehicleKey, string, string) {}
func (nopEmitter) EmitExitPassIssued(*ExitPass)                {}
func (nopEmitter) EmitExitConfirmed(*ExitPass)                 {}
func (nopEmitter) EmitExitPassClosed(*ExitPass)                {}
