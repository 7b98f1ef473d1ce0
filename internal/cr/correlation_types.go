package cr

import (
	"fmt"
	"regexp"
)

// Built-in correlation type ids.
const (
	FilesTypeID           = 0
	DomainTypeID          = 1
	EmailTypeID           = 2
	PhoneTypeID           = 3
	USBIDTypeID           = 4
	SSIDTypeID            = 5
	MACTypeID             = 6
	IMEITypeID            = 7
	IMSITypeID            = 8
	ICCIDTypeID           = 9
	InstalledProgsTypeID  = 10
	OSAccountTypeID       = 11
	AdditionalTypesBaseID = 1000
)

const instanceTableSuffix = "_instances"

// CorrelationType is a registered kind of correlation value. Each type is backed by
// its own instance table; TableName never changes once the type holds data.
type CorrelationType struct {
	ID          int
	DisplayName string
	TableName   string
	Supported   bool
	Enabled     bool
}

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,50}$`)

// ValidateTableName rejects any table token that could not safely be interpolated into SQL.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return &ValidationError{Field: "db_table_name", Reason: fmt.Sprintf("%q is not a valid table name", name)}
	}
	return nil
}

// InstanceTable returns the name of the table holding instances of t.
func (t CorrelationType) InstanceTable() string {
	return t.TableName + instanceTableSuffix
}

// ReferenceTable returns the name of the reference table for t. Only the files type has one.
func (t CorrelationType) ReferenceTable() (string, bool) {
	if t.ID != FilesTypeID {
		return "", false
	}
	return "reference_" + t.TableName, true
}

// HasAccount reports whether instances of t carry an account_id column.
func (t CorrelationType) HasAccount() bool {
	return HasAccountColumn(t.ID)
}

// HasAccountColumn reports whether the instance table of the type id carries account_id.
func HasAccountColumn(typeID int) bool {
	return typeID == EmailTypeID || typeID == PhoneTypeID || typeID >= AdditionalTypesBaseID
}

// Validate checks the fields of a type before it is registered.
func (t CorrelationType) Validate() error {
	if t.DisplayName == "" {
		return &ValidationError{Field: "display_name", Reason: "is required"}
	}
	return ValidateTableName(t.TableName)
}

// BuiltinCorrelationTypes returns the non-account types in id order.
func BuiltinCorrelationTypes() []CorrelationType {
	return []CorrelationType{
		{ID: FilesTypeID, DisplayName: "Files", TableName: "file", Supported: true, Enabled: true},
		{ID: DomainTypeID, DisplayName: "Domains", TableName: "domain", Supported: true, Enabled: true},
		{ID: EmailTypeID, DisplayName: "Email Addresses", TableName: "email_address", Supported: true, Enabled: true},
		{ID: PhoneTypeID, DisplayName: "Phone Numbers", TableName: "phone_number", Supported: true, Enabled: true},
		{ID: USBIDTypeID, DisplayName: "USB Devices", TableName: "usb_devices", Supported: true, Enabled: true},
		{ID: SSIDTypeID, DisplayName: "Wireless Networks", TableName: "wireless_networks", Supported: true, Enabled: true},
		{ID: MACTypeID, DisplayName: "MAC Addresses", TableName: "mac_address", Supported: true, Enabled: true},
		{ID: IMEITypeID, DisplayName: "IMEI Number", TableName: "imei_number", Supported: true, Enabled: true},
		{ID: IMSITypeID, DisplayName: "IMSI Number", TableName: "imsi_number", Supported: true, Enabled: true},
		{ID: ICCIDTypeID, DisplayName: "ICCID Number", TableName: "iccid_number", Supported: true, Enabled: true},
		{ID: InstalledProgsTypeID, DisplayName: "Installed Programs", TableName: "installed_programs", Supported: true, Enabled: true},
		{ID: OSAccountTypeID, DisplayName: "OS Accounts", TableName: "os_accounts", Supported: true, Enabled: true},
	}
}

// DefaultCorrelationTypes returns every type a freshly created repository registers:
// the built-in types followed by one type per predefined account type.
func DefaultCorrelationTypes() []CorrelationType {
	types := BuiltinCorrelationTypes()
	return append(types, AccountCorrelationTypes()...)
}

// AccountCorrelationTypes returns the correlation types backing predefined account
// types that have no dedicated built-in type.
func AccountCorrelationTypes() []CorrelationType {
	var types []CorrelationType
	for _, at := range PredefinedAccountTypes {
		if at.CorrelationTypeID < AdditionalTypesBaseID {
			continue
		}
		types = append(types, CorrelationType{
			ID:          at.CorrelationTypeID,
			DisplayName: at.DisplayName,
			TableName:   at.tableName(),
			Supported:   true,
			Enabled:     true,
		})
	}
	return types
}

// DefaultCorrelationType returns the default type with the given id.
func DefaultCorrelationType(id int) (CorrelationType, bool) {
	for _, t := range DefaultCorrelationTypes() {
		if t.ID == id {
			return t, true
		}
	}
	return CorrelationType{}, false
}
