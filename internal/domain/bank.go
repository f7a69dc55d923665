package domain

// Bank is one entry of the bank directory, keyed by its BLZ
// (German bank code).
type Bank struct {
	BLZ           string `json:"blz"`
	Name          string `json:"name"`
	City          string `json:"city"`
	BIC           string `json:"bic"`
	CheckMethod   string `json:"check_method"`
	HBCIHost      string `json:"hbci_host"`
	PinTanURL     string `json:"pin_tan_url"`
	HBCIVersion   string `json:"hbci_version"`
	PinTanVersion string `json:"pin_tan_version"`
}
