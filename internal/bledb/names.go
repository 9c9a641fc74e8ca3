package bledb

// Vendor ring-controller ("Pulse") service and characteristics.
const (
	PulseServiceUUID   = "9c5e0001-4d3a-4b8e-9f6c-2e7a5b1d8c30"
	PulseWriteCharUUID = "9c5e0002-4d3a-4b8e-9f6c-2e7a5b1d8c30"
	PulseReadCharUUID  = "9c5e0003-4d3a-4b8e-9f6c-2e7a5b1d8c30"
	PulseAuthCharUUID  = "9c5e0004-4d3a-4b8e-9f6c-2e7a5b1d8c30"
)

// Nordic secure DFU service and characteristics.
const (
	DFUServiceUUID            = "fe59"
	DFUControlPointCharUUID   = "8ec90001-f315-4f60-9fb8-838830daea50"
	DFUPacketCharUUID         = "8ec90002-f315-4f60-9fb8-838830daea50"
	DFUButtonlessCharUUID     = "8ec90003-f315-4f60-9fb8-838830daea50"
	DFUButtonlessBondCharUUID = "8ec90004-f315-4f60-9fb8-838830daea50"
)

type entry struct {
	uuid string
	name string
}

var serviceEntries = []entry{
	{"1800", "Generic Access"},
	{"1801", "Generic Attribute"},
	{"180a", "Device Information"},
	{"180f", "Battery Service"},
	{DFUServiceUUID, "Secure DFU Service"},
	{PulseServiceUUID, "Pulse Ring Controller"},
}

var characteristicEntries = []entry{
	{"2a00", "Device Name"},
	{"2a01", "Appearance"},
	{"2a05", "Service Changed"},
	{"2a19", "Battery Level"},
	{"2a24", "Model Number String"},
	{"2a25", "Serial Number String"},
	{"2a26", "Firmware Revision String"},
	{"2a29", "Manufacturer Name String"},
	{DFUControlPointCharUUID, "DFU Control Point"},
	{DFUPacketCharUUID, "DFU Packet"},
	{DFUButtonlessCharUUID, "Buttonless DFU"},
	{DFUButtonlessBondCharUUID, "Buttonless DFU (bonded)"},
	{PulseWriteCharUUID, "Pulse Command"},
	{PulseReadCharUUID, "Pulse Response"},
	{PulseAuthCharUUID, "Pulse Authentication"},
}

var descriptorEntries = []entry{
	{"2900", "Characteristic Extended Properties"},
	{"2901", "Characteristic User Description"},
	{"2902", "Client Characteristic Configuration"},
	{"2904", "Characteristic Presentation Format"},
}

var (
	services        = buildIndex(serviceEntries)
	characteristics = buildIndex(characteristicEntries)
	descriptors     = buildIndex(descriptorEntries)
)

func buildIndex(entries []entry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[MustValidateUUID(e.uuid)] = e.name
	}
	return m
}

// LookupService returns the known name of a service, or "" if unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the known name of a characteristic, or "" if unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the known name of a descriptor, or "" if unknown.
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}
