package types

type EnrollmentRequest struct {
	Name               string `json:"name"`
	NationalID         string `json:"national_id"`
	RegistrationNumber string `json:"registration_number"`
	Drawer             string `json:"drawer"`
}

type EnrollmentResponse struct {
	OK         bool   `json:"ok"`
	Result     string `json:"result"`
	SlotID     int    `json:"slot_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	ServerTime string `json:"server_time"`
}

type EnrollmentStatus struct {
	State      string `json:"state"`
	Message    string `json:"message"`
	SessionID  string `json:"session_id,omitempty"`
	SlotID     int    `json:"slot_id,omitempty"`
	LastStatus string `json:"last_status,omitempty"`
	ServerTime string `json:"server_time"`
}
