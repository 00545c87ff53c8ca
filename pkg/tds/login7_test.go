package tds

import "testing"

func TestBuildLogin7ParseLogin7RoundTrip(t *testing.T) {
	req := &Login7Request{
		TDSVersion:          0x74000004,
		PacketSize:          4096,
		ClientProgVer:       0x01000000,
		ClientPID:           4242,
		ClientLCID:          0x00000409,
		HostName:            "workstation1",
		UserName:            "sa",
		Password:            "hunter2",
		AppName:             "tds-go",
		ServerName:          "sql.example.com",
		ClientInterfaceName: "tds-go",
		Language:            "",
		Database:            "master",
	}

	payload := BuildLogin7(req)

	got, err := ParseLogin7(payload)
	if err != nil {
		t.Fatalf("ParseLogin7: %v", err)
	}

	if got.TDSVersion != req.TDSVersion {
		t.Errorf("TDSVersion = %#x, want %#x", got.TDSVersion, req.TDSVersion)
	}
	if got.HostName != req.HostName {
		t.Errorf("HostName = %q, want %q", got.HostName, req.HostName)
	}
	if got.UserName != req.UserName {
		t.Errorf("UserName = %q, want %q", got.UserName, req.UserName)
	}
	if got.AppName != req.AppName {
		t.Errorf("AppName = %q, want %q", got.AppName, req.AppName)
	}
	if got.ServerName != req.ServerName {
		t.Errorf("ServerName = %q, want %q", got.ServerName, req.ServerName)
	}
	if got.ClientInterfaceName != req.ClientInterfaceName {
		t.Errorf("ClientInterfaceName = %q, want %q", got.ClientInterfaceName, req.ClientInterfaceName)
	}
	if got.Database != req.Database {
		t.Errorf("Database = %q, want %q", got.Database, req.Database)
	}
}

func TestBuildLogin7RoundTripWithEmptyFields(t *testing.T) {
	req := &Login7Request{
		TDSVersion: 0x74000004,
		PacketSize: 4096,
		UserName:   "sa",
		Password:   "",
		Database:   "",
	}

	payload := BuildLogin7(req)

	got, err := ParseLogin7(payload)
	if err != nil {
		t.Fatalf("ParseLogin7: %v", err)
	}
	if got.HostName != "" || got.AppName != "" || got.Database != "" {
		t.Fatalf("expected empty optional fields to round-trip as empty strings, got %+v", got)
	}
	if got.UserName != "sa" {
		t.Fatalf("UserName = %q, want sa", got.UserName)
	}
}

func TestBuildLogin7WithFeatureExtensionsDoesNotCorruptFixedFields(t *testing.T) {
	req := &Login7Request{
		TDSVersion: 0x74000004,
		PacketSize: 4096,
		UserName:   "sa",
		Database:   "master",
		Extensions: []LoginFeatureExt{{FeatureID: FeatureExtUTF8Support, Data: []byte{0x01}}},
	}

	payload := BuildLogin7(req)

	got, err := ParseLogin7(payload)
	if err != nil {
		t.Fatalf("ParseLogin7: %v", err)
	}
	if got.UserName != "sa" || got.Database != "master" {
		t.Fatalf("fixed fields corrupted by trailing feature-extension block: %+v", got)
	}
}

// obfuscatePassword's transform (nibble-swap then XOR 0xA5) is reversible:
// undoing the XOR first and then swapping the nibbles back recovers the
// original bytes.
func TestObfuscatePasswordIsReversible(t *testing.T) {
	original := encodeUTF16LE("hunter2")
	obfuscated := obfuscatePassword(original)

	recovered := make([]byte, len(obfuscated))
	for i, b := range obfuscated {
		unxored := b ^ 0xA5
		recovered[i] = (unxored<<4)&0xF0 | (unxored>>4)&0x0F
	}

	if string(recovered) != string(original) {
		t.Fatalf("password obfuscation not reversible: got %v, want %v", recovered, original)
	}
}
