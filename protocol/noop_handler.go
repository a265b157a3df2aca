package protocol

// NoOpHandler implements MessageHandler with no-op methods.
// Embed this and override only the methods you need.
type NoOpHandler struct{}

func (NoOpHandler) HandleConnected(*Envelope, *Connected)                       {}
func (NoOpHandler) HandleAuthenticated(*Envelope, *Authenticated)               {}
func (NoOpHandler) HandleAuthError(*Envelope, *AuthError)                       {}
func (NoOpHandler) HandleHeartbeatAck(*Envelope, *HeartbeatAck)                 {}
func (NoOpHandler) HandleDashboardData(*Envelope, *DashboardData)               {}
func (NoOpHandler) HandleQueueUpdate(*Envelope, *QueueUpdate)                   {}
func (NoOpHandler) HandleBookingConflict(*Envelope, *BookingConflict)           {}
func (NoOpHandler) HandleBookingSuccess(*Envelope, *BookingSuccess)             {}
func (NoOpHandler) HandleVehicleStatusChanged(*Envelope, *VehicleStatusChanged) {}
func (NoOpHandler) HandleError(*Envelope, *ServerError)                         {}

// Compile-time check that NoOpHandler implements MessageHandler.
var _ MessageHandler = NoOpHandler{}
