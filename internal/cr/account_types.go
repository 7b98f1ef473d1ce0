package cr

import "strings"

// PredefinedAccountType describes an account category seeded into account_types.
// Accounts of types other than email and phone are stored in their own correlation
// type whose id is CorrelationTypeID.
type PredefinedAccountType struct {
	TypeName          string
	DisplayName       string
	CorrelationTypeID int
}

func (p PredefinedAccountType) tableName() string {
	return strings.ToLower(p.TypeName) + "_acct"
}

// Account type names used by the normalizer.
const (
	AccountTypePhone = "PHONE"
	AccountTypeEmail = "EMAIL"
)

// PredefinedAccountTypes is the seeded account type registry. Ids above
// AdditionalTypesBaseID are assigned once and must never be reused.
var PredefinedAccountTypes = []PredefinedAccountType{
	{TypeName: AccountTypePhone, DisplayName: "Phone", CorrelationTypeID: PhoneTypeID},
	{TypeName: AccountTypeEmail, DisplayName: "Email", CorrelationTypeID: EmailTypeID},
	{TypeName: "FACEBOOK", DisplayName: "Facebook", CorrelationTypeID: AdditionalTypesBaseID + 2},
	{TypeName: "TWITTER", DisplayName: "Twitter", CorrelationTypeID: AdditionalTypesBaseID + 3},
	{TypeName: "INSTAGRAM", DisplayName: "Instagram", CorrelationTypeID: AdditionalTypesBaseID + 4},
	{TypeName: "WHATSAPP", DisplayName: "WhatsApp", CorrelationTypeID: AdditionalTypesBaseID + 5},
	{TypeName: "MESSAGING_APP", DisplayName: "MessagingApp", CorrelationTypeID: AdditionalTypesBaseID + 6},
	{TypeName: "WEBSITE", DisplayName: "Website", CorrelationTypeID: AdditionalTypesBaseID + 7},
	{TypeName: "IMESSAGE", DisplayName: "iMessage", CorrelationTypeID: AdditionalTypesBaseID + 8},
	{TypeName: "LINE", DisplayName: "LINE", CorrelationTypeID: AdditionalTypesBaseID + 9},
	{TypeName: "SKYPE", DisplayName: "Skype", CorrelationTypeID: AdditionalTypesBaseID + 10},
	{TypeName: "WECHAT", DisplayName: "WeChat", CorrelationTypeID: AdditionalTypesBaseID + 11},
	{TypeName: "QQ", DisplayName: "QQ", CorrelationTypeID: AdditionalTypesBaseID + 12},
	{TypeName: "VIBER", DisplayName: "Viber", CorrelationTypeID: AdditionalTypesBaseID + 13},
	{TypeName: "TELEGRAM", DisplayName: "Telegram", CorrelationTypeID: AdditionalTypesBaseID + 14},
	{TypeName: "KIK", DisplayName: "Kik", CorrelationTypeID: AdditionalTypesBaseID + 15},
	{TypeName: "THREEMA", DisplayName: "Threema", CorrelationTypeID: AdditionalTypesBaseID + 16},
}
