package realtime

// Channel is a named topic connections subscribe to. The set is closed.
type Channel string

const (
	ChannelSystem           Channel = "system"
	ChannelNotifications    Channel = "notifications"
	ChannelDashboard        Channel = "dashboard"
	ChannelBookingUpdates   Channel = "booking_updates"
	ChannelFinancialUpdates Channel = "financial_updates"
)

// channels is the stable ordering used for default joins and listings.
var channels = []Channel{
	ChannelSystem,
	ChannelNotifications,
	ChannelDashboard,
	ChannelBookingUpdates,
	ChannelFinancialUpdates,
}

// Channels lists every known channel.
func Channels() []Channel {
	out := make([]Channel, len(channels))
	copy(out, channels)
	return out
}

// ParseChannel maps a wire name to a Channel.
func ParseChannel(name string) (Channel, bool) {
	for _, ch := range channels {
		if string(ch) == name {
			return ch, true
		}
	}
	return "", false
}
