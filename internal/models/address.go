package models

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var addressJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ShippingAddress is stored on the order as opaque text
type ShippingAddress struct {
	FullName     string `json:"full_name" binding:"required"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	AddressLine1 string `json:"address_line1" binding:"required"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city" binding:"required"`
	State        string `json:"state" binding:"required"`
	PostalCode   string `json:"postal_code" binding:"required"`
	Country      string `json:"country" binding:"required"`
}

// EncodeShippingAddress produces the stored text form. Field order is fixed
// by the struct so equal addresses encode identically.
func EncodeShippingAddress(addr ShippingAddress) (string, error) {
	b, err := addressJSON.Marshal(addr)
	if err != nil {
		return "", fmt.Errorf("failed to encode shipping address: %w", err)
	}
	return string(b), nil
}

func DecodeShippingAddress(s string) (ShippingAddress, error) {
	var addr ShippingAddress
	if err := addressJSON.UnmarshalFromString(s, &addr); err != nil {
		return ShippingAddress{}, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	return addr, nil
}
