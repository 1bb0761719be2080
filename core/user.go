package core

import (
	"encoding/json"
	"strings"
)

// Roles known to the marketplace. buyer is the backend's name for customer.
const (
	RoleFarmer   = "farmer"
	RoleCustomer = "customer"
	RoleBuyer    = "buyer"
	RoleAdmin    = "admin"
	RoleDelivery = "delivery"
)

// UserRecord is the user payload returned by the backend.
//
// Role is normalized once at decode time: the backend sends either "role" or
// the legacy "user_type"; "role" wins when both are present and the value is
// trimmed and lower-cased. Nothing else reads user_type.
type UserRecord struct {
	ID          int64  `json:"id"`
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Role        string `json:"role"`
	Phone       string `json:"phone_number,omitempty"`
	Address     string `json:"address,omitempty"`
	FarmName    string `json:"farm_name,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	IsVerified  bool   `json:"is_verified,omitempty"`
	DateJoined  string `json:"date_joined,omitempty"`
}

type userRecordAlias UserRecord

func (u *UserRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		userRecordAlias
		UserType string `json:"user_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = UserRecord(raw.userRecordAlias)
	u.Role = NormalizeRole(firstNonEmpty(strings.TrimSpace(u.Role), raw.UserType))
	return nil
}

// NormalizeRole trims and lower-cases a role value.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// DisplayName returns "First Last", falling back to username then email.
func (u UserRecord) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return firstNonEmpty(name, u.Username, u.Email)
}

// Merge overlays partial fields on a copy of u. Keys follow the JSON names;
// unknown keys are ignored and "user_type" is accepted as a role alias.
func (u UserRecord) Merge(partial map[string]any) (UserRecord, error) {
	base, err := json.Marshal(u)
	if err != nil {
		return u, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return u, err
	}
	for k, v := range partial {
		fields[k] = v
	}
	if _, ok := partial["role"]; !ok {
		if _, legacy := partial["user_type"]; legacy {
			delete(fields, "role")
		}
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return u, err
	}
	var out UserRecord
	if err := json.Unmarshal(merged, &out); err != nil {
		return u, err
	}
	return out, nil
}
