package models

// Customer is the slice of a CRM customer record the reminder engine needs.
// Records are owned by the CRM; reminders only reference them.
type Customer struct {
	ID             string `json:"id"`
	CompanyAndName string `json:"companyAndName"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	GSTNo          string `json:"gstNo,omitempty"`
	Remark         string `json:"remark,omitempty"`
	CompanyName    string `json:"companyName,omitempty"`
}
