package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeControllerTXT creates TXT records for controller discovery.
func EncodeControllerTXT(info *ControllerInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	// Required fields
	txt[TXTKeyControllerID] = info.ControllerID
	txt[TXTKeyVersion] = strconv.FormatUint(uint64(info.Version), 10)

	// Optional fields
	if info.VersionBitmap != 0 {
		txt[TXTKeyVersionBitmap] = strconv.FormatUint(uint64(info.VersionBitmap), 16)
	}
	if info.DeviceCount > 0 {
		txt[TXTKeyDeviceCount] = strconv.Itoa(info.DeviceCount)
	}

	return txt
}

// DecodeControllerTXT parses TXT records from controller discovery.
func DecodeControllerTXT(txt TXTRecordMap) (*ControllerInfo, error) {
	info := &ControllerInfo{}

	// Parse controller ID (required)
	var ok bool
	info.ControllerID, ok = txt[TXTKeyControllerID]
	if !ok || len(info.ControllerID) != IDLength {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyControllerID)
	}
	if !isHexString(info.ControllerID) {
		return nil, fmt.Errorf("%w: invalid controller ID format", ErrInvalidTXTRecord)
	}

	// Parse version (required)
	verStr, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	ver, err := strconv.ParseUint(verStr, 10, 8)
	if err != nil || ver == 0 {
		return nil, ErrInvalidVersion
	}
	info.Version = uint8(ver)

	// Optional fields
	if vbStr, ok := txt[TXTKeyVersionBitmap]; ok {
		vb, err := strconv.ParseUint(vbStr, 16, 32)
		if err == nil {
			info.VersionBitmap = uint32(vb)
		}
	}
	if dcStr, ok := txt[TXTKeyDeviceCount]; ok {
		dc, err := strconv.Atoi(dcStr)
		if err == nil && dc >= 0 {
			info.DeviceCount = dc
		}
	}

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value" strings.
// This format is commonly used by mDNS libraries.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}

// isHexString checks if a string contains only valid hex characters.
func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
