package cr

import (
	"net"
	"net/mail"
	"regexp"
	"strings"
)

var (
	md5Pattern         = regexp.MustCompile(`^[0-9a-f]{32}$`)
	hexPattern         = regexp.MustCompile(`^[0-9a-f]+$`)
	digitsPattern      = regexp.MustCompile(`^[0-9]+$`)
	iccidPattern       = regexp.MustCompile(`^[0-9]{17,21}[0-9f]$`)
	domainLabelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	phoneStrip         = strings.NewReplacer("-", "", "(", "", ")", "", " ", "", ".", "")
	macStrip           = strings.NewReplacer(":", "", "-", "", ".", "", " ", "")
	numberStrip        = strings.NewReplacer("-", "", " ", "")
)

const minPhoneDigits = 5

// Normalize canonicalizes value for the correlation type typeID. Stored and
// queried values must both pass through Normalize or matches are missed.
func Normalize(typeID int, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", &NormalizationError{TypeID: typeID, Value: value, Reason: "value is empty"}
	}

	switch typeID {
	case FilesTypeID:
		v = strings.ToLower(v)
		if !md5Pattern.MatchString(v) {
			return "", &NormalizationError{TypeID: typeID, Value: value, Reason: "not a valid MD5 hash"}
		}
		return v, nil
	case DomainTypeID:
		return normalizeDomain(typeID, value, v)
	case EmailTypeID:
		return normalizeEmail(typeID, value, v)
	case PhoneTypeID:
		return normalizePhone(typeID, value, v)
	case USBIDTypeID:
		return strings.ToLower(v), nil
	case SSIDTypeID, InstalledProgsTypeID, OSAccountTypeID:
		return v, nil
	case MACTypeID:
		v = strings.ToLower(macStrip.Replace(v))
		if (len(v) != 12 && len(v) != 16) || !hexPattern.MatchString(v) {
			return "", &NormalizationError{TypeID: typeID, Value: value, Reason: "not a valid MAC address"}
		}
		return v, nil
	case IMEITypeID:
		return normalizeDigits(typeID, value, v, 14, 16, "IMEI")
	case IMSITypeID:
		return normalizeDigits(typeID, value, v, 14, 15, "IMSI")
	case ICCIDTypeID:
		v = strings.ToLower(numberStrip.Replace(v))
		if !iccidPattern.MatchString(v) {
			return "", &NormalizationError{TypeID: typeID, Value: value, Reason: "not a valid ICCID"}
		}
		return v, nil
	}

	if typeID >= AdditionalTypesBaseID {
		return strings.ToLower(v), nil
	}
	return "", &NormalizationError{TypeID: typeID, Value: value, Reason: "unknown correlation type"}
}

// NormalizeAccountID canonicalizes an account identifier for the named account type.
func NormalizeAccountID(accountTypeName, id string) (string, error) {
	switch accountTypeName {
	case AccountTypePhone:
		return Normalize(PhoneTypeID, id)
	case AccountTypeEmail:
		return Normalize(EmailTypeID, id)
	}
	v := strings.ToLower(strings.TrimSpace(id))
	if v == "" {
		return "", &NormalizationError{TypeID: AdditionalTypesBaseID, Value: id, Reason: "account identifier is empty"}
	}
	return v, nil
}

func normalizeDomain(typeID int, raw, v string) (string, error) {
	v = strings.TrimSuffix(strings.ToLower(v), ".")
	if v == "localhost" || net.ParseIP(v) != nil {
		return v, nil
	}
	v = strings.TrimPrefix(v, "www.")
	labels := strings.Split(v, ".")
	if len(labels) < 2 {
		return "", &NormalizationError{TypeID: typeID, Value: raw, Reason: "not a valid domain"}
	}
	for _, l := range labels {
		if !domainLabelPattern.MatchString(l) {
			return "", &NormalizationError{TypeID: typeID, Value: raw, Reason: "not a valid domain"}
		}
	}
	return v, nil
}

func normalizeEmail(typeID int, raw, v string) (string, error) {
	v = strings.ToLower(v)
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return "", &NormalizationError{TypeID: typeID, Value: raw, Reason: "not a valid email address"}
	}
	return v, nil
}

func normalizePhone(typeID int, raw, v string) (string, error) {
	v = phoneStrip.Replace(v)
	plus := strings.HasPrefix(v, "+")
	digits := strings.TrimPrefix(v, "+")
	if len(digits) < minPhoneDigits || !digitsPattern.MatchString(digits) {
		return "", &NormalizationError{TypeID: typeID, Value: raw, Reason: "not a valid phone number"}
	}
	if plus {
		return "+" + digits, nil
	}
	return digits, nil
}

func normalizeDigits(typeID int, raw, v string, minLen, maxLen int, name string) (string, error) {
	v = numberStrip.Replace(v)
	if len(v) < minLen || len(v) > maxLen || !digitsPattern.MatchString(v) {
		return "", &NormalizationError{TypeID: typeID, Value: raw, Reason: "not a valid " + name}
	}
	return v, nil
}
