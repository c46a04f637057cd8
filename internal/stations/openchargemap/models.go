package openchargemap

// poi is the subset of an OpenChargeMap POI record the locator reads.
// Every field is optional except ID; pointers distinguish absent from zero.
type poi struct {
	ID           *int64        `json:"ID"`
	UUID         string        `json:"UUID"`
	AddressInfo  *addressInfo  `json:"AddressInfo"`
	Connections  []connection  `json:"Connections"`
	StatusType   *statusType   `json:"StatusType"`
	OperatorInfo *operatorInfo `json:"OperatorInfo"`
}

type addressInfo struct {
	Title           *string  `json:"Title"`
	AddressLine1    *string  `json:"AddressLine1"`
	Town            *string  `json:"Town"`
	StateOrProvince *string  `json:"StateOrProvince"`
	Postcode        *string  `json:"Postcode"`
	Latitude        *float64 `json:"Latitude"`
	Longitude       *float64 `json:"Longitude"`
}

type connection struct {
	ConnectionType *connectionType `json:"ConnectionType"`
	PowerKW        *float64        `json:"PowerKW"`
	Quantity       *int            `json:"Quantity"`
}

type connectionType struct {
	ID    int     `json:"ID"`
	Title *string `json:"Title"`
}

type statusType struct {
	ID            int     `json:"ID"`
	Title         *string `json:"Title"`
	IsOperational *bool   `json:"IsOperational"`
}

type operatorInfo struct {
	ID    int     `json:"ID"`
	Title *string `json:"Title"`
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
