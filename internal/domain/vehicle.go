package domain

// VehicleType is the closed enum of vehicle classes a ranger may record.
type VehicleType string

const (
	VehicleCar        VehicleType = "car"
	VehicleJeep       VehicleType = "jeep"
	VehiclePickup     VehicleType = "pickup"
	VehicleVan        VehicleType = "van"
	VehicleMinibus    VehicleType = "minibus"
	VehicleBus        VehicleType = "bus"
	VehicleTruck      VehicleType = "truck"
	VehicleTanker     VehicleType = "tanker"
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleAuto       VehicleType = "auto"
	VehicleTractor    VehicleType = "tractor"
	VehicleOther      VehicleType = "other"
)

// ValidVehicleTypes enumerates the closed set accepted by the ingest
// gateway; anything else is rejected as ErrMalformed.
var ValidVehicleTypes = []VehicleType{
	VehicleCar, VehicleJeep, VehiclePickup, VehicleVan, VehicleMinibus,
	VehicleBus, VehicleTruck, VehicleTanker, VehicleMotorcycle,
	VehicleAuto, VehicleTractor, VehicleOther,
}

func (v VehicleType) Valid() bool {
	for _, t := range ValidVehicleTypes {
		if t == v {
			return true
		}
	}
	return false
}

// vehicleCodeTable is the single source of truth for the SMS V1 codec's
// three-letter vehicle codes (spec §4.1). Bidirectional and total: every
// VehicleType has exactly one code, and the reverse map is derived from
// this table rather than maintained separately, so the two can never
// drift out of sync with one another.
var vehicleCodeTable = []struct {
	vt   VehicleType
	code string
}{
	{VehicleCar, "CAR"},
	{VehicleJeep, "JEP"},
	{VehicleMotorcycle, "MOT"},
	{VehicleBus, "BUS"},
	{VehicleTruck, "TRK"},
	{VehiclePickup, "MTK"},
	{VehicleVan, "VAN"},
	{VehicleMinibus, "BUS"}, // minibus shares the bus code per the mapping table
	{VehicleAuto, "AUT"},
	{VehicleTractor, "TRC"},
	{VehicleTanker, "TNK"},
	{VehicleOther, "OTH"},
}

// vehicleCodeOf is the canonical (first-match) code for a VehicleType,
// used when encoding. Minibus shares the bus wire code, so decoding that
// code back is inherently lossy in that direction
// (documented: decode(encode(minibus)) can legitimately yield bus).
func vehicleCodeOf(vt VehicleType) (string, bool) {
	for _, e := range vehicleCodeTable {
		if e.vt == vt {
			return e.code, true
		}
	}
	return "", false
}

func vehicleTypeOfCode(code string) (VehicleType, bool) {
	for _, e := range vehicleCodeTable {
		if e.code == code {
			return e.vt, true
		}
	}
	return "", false
}
