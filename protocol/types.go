package protocol

// Message type constants for the station push channel.
const (
	// Server -> terminal
	TypeConnected            = "connected"
	TypeAuthenticated        = "authenticated"
	TypeAuthError            = "auth_error"
	TypeHeartbeatAck         = "heartbeat_ack"
	TypeInitialData          = "initial_data"
	TypeDashboardData        = "dashboard_data"
	TypeQueueUpdate          = "queue_update"
	TypeBookingConflict      = "booking_conflict"
	TypeBookingSuccess       = "booking_success"
	TypeVehicleStatusChanged = "vehicle_status_changed"
	TypeError                = "error"

	// Terminal -> server
	TypeAuthenticate         = "authenticate"
	TypeSubscribe            = "subscribe"
	TypeHeartbeat            = "heartbeat"
	TypeDashboardDataRequest = "dashboard_data_request"
)

// Client types sent with authenticate.
const (
	ClientDesktop = "desktop-app"
)

// Topics every terminal subscribes to after authenticating.
const (
	TopicQueues    = "queues"
	TopicBookings  = "bookings"
	TopicVehicles  = "vehicles"
	TopicDashboard = "dashboard"
)

// DefaultTopics is the fixed auto-subscribe set.
var DefaultTopics = []string{TopicDashboard, TopicQueues, TopicBookings, TopicVehicles}
