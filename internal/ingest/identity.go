package ingest

import "strings"

type identityField int

const (
	fieldNone identityField = iota
	fieldCard
	fieldName
	fieldRegistration
	fieldVIN
)

var (
	driverAliases = map[string]identityField{
		"cardnumber": fieldCard,
		"card":       fieldCard,
		"cardid":     fieldCard,
		"number":     fieldCard,
		"name":       fieldName,
		"fullname":   fieldName,
		"holdername": fieldName,
	}
	vehicleAliases = map[string]identityField{
		"registration":                fieldRegistration,
		"registrationnumber":          fieldRegistration,
		"vrn":                         fieldRegistration,
		"plate":                       fieldRegistration,
		"licenseplate":                fieldRegistration,
		"vin":                         fieldVIN,
		"identificationnumber":        fieldVIN,
		"vehicleidentificationnumber": fieldVIN,
	}
	// globalAliases are matched at any depth by the deep search.
	globalAliases = map[string]identityField{
		"drivercardnumber":            fieldCard,
		"cardnumber":                  fieldCard,
		"cardholdercardnumber":        fieldCard,
		"drivername":                  fieldName,
		"holdername":                  fieldName,
		"cardholdername":              fieldName,
		"vehicleregistration":         fieldRegistration,
		"vehicleregistrationnumber":   fieldRegistration,
		"registrationnumber":          fieldRegistration,
		"vrn":                         fieldRegistration,
		"licenseplate":                fieldRegistration,
		"vin":                         fieldVIN,
		"vehicleidentificationnumber": fieldVIN,
	}
)

// canonicalKey folds case and drops separators so card_number, cardNumber
// and Card-Number compare equal.
func canonicalKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '.':
			return -1
		}
		return r
	}, strings.ToLower(key))
}

func (id *Identity) set(field identityField, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	var target *string
	switch field {
	case fieldCard:
		target = &id.DriverCardNumber
	case fieldName:
		target = &id.DriverName
	case fieldRegistration:
		target = &id.VehicleRegistration
	case fieldVIN:
		target = &id.VIN
	default:
		return
	}
	if *target == "" {
		*target = value
	}
}

// explicitIdentity reads the driver and vehicle objects of a known shape.
func explicitIdentity(doc map[string]any) Identity {
	var id Identity
	if driver, ok := doc["driver"].(map[string]any); ok {
		scan(&id, driver, driverAliases)
		if id.DriverName == "" {
			id.DriverName = composeName(driver)
		}
	}
	if vehicle, ok := doc["vehicle"].(map[string]any); ok {
		scan(&id, vehicle, vehicleAliases)
	}
	return id
}

func scan(id *Identity, obj map[string]any, aliases map[string]identityField) {
	for _, key := range sortedKeys(obj) {
		if s, ok := obj[key].(string); ok {
			id.set(aliases[canonicalKey(key)], s)
		}
	}
}

// composeName joins split holder names such as {"first_names","surname"}.
func composeName(obj map[string]any) string {
	var first, last string
	for _, key := range sortedKeys(obj) {
		s, ok := obj[key].(string)
		if !ok {
			continue
		}
		switch canonicalKey(key) {
		case "firstname", "firstnames", "givenname", "forename":
			first = s
		case "surname", "lastname", "familyname":
			last = s
		}
	}
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
