package mqtt

import "fmt"

// Topic prefixes for the GeoModel MQTT hierarchy.
//
// Table topics use the flat scheme geomodel/{category}/table/{device},
// matching the bridge's messages.go.
const (
	// TopicPrefix is the base for all GeoModel topics.
	TopicPrefix = "geomodel"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "geomodel/system"

	// tableNode is the protocol segment for the hydraulic table.
	tableNode = "table"
)

// Topics provides builders for GeoModel MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.TableState("pitch")
//	// Returns: "geomodel/state/table/pitch"
type Topics struct{}

// TableState returns the retained state topic for one device.
//
// Example: geomodel/state/table/pitch
func (Topics) TableState(device string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, tableNode, device)
}

// TableCommand returns the command topic for one device.
//
// Example: geomodel/command/table/pump
func (Topics) TableCommand(device string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, tableNode, device)
}

// TableAck returns the command acknowledgement topic for one device.
//
// Example: geomodel/ack/table/pump
func (Topics) TableAck(device string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, tableNode, device)
}

// TableHealth returns the table bridge health topic.
//
// Example: geomodel/health/table
func (Topics) TableHealth() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, tableNode)
}

// SystemStatus returns the service status topic used for LWT.
//
// Example: geomodel/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTableCommands returns a pattern matching every device command topic.
//
// Pattern: geomodel/command/table/+
func (Topics) AllTableCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, tableNode)
}

// AllTableStates returns a pattern matching every device state topic.
//
// Pattern: geomodel/state/table/+
func (Topics) AllTableStates() string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, tableNode)
}

// AllTopics returns a pattern matching all GeoModel topics.
//
// Pattern: geomodel/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
