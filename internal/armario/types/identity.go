package types

// Identity is one occupied slot as shown by the listing endpoint.
type Identity struct {
	SlotID             int    `json:"slot_id"`
	Name               string `json:"name"`
	NationalID         string `json:"national_id"`
	RegistrationNumber string `json:"registration_number"`
	Drawer             Drawer `json:"drawer"`
}

type DeleteResponse struct {
	OK     bool `json:"ok"`
	SlotID int  `json:"slot_id"`
}

type DrawerStatus struct {
	Drawer      Drawer `json:"drawer"`
	Locked      bool   `json:"locked"`
	ItemPresent *bool  `json:"item_present,omitempty"` // nil when no presence sensor is fitted
}

// SimFingerRequest places (Finger set) or lifts (Finger nil) the simulated
// finger in dev mode.
type SimFingerRequest struct {
	Finger *string `json:"finger"`
}
