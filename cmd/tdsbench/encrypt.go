package main

import "github.com/sqlstream/tds-go/pkg/tds"

func parseEncryptMode(s string) tds.EncryptMode {
	switch s {
	case "off":
		return tds.EncryptModeOff
	case "strict":
		return tds.EncryptModeStrict
	default:
		return tds.EncryptModeOn
	}
}
