package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// ServerInfo holds the TXT attributes of a resource directory.
type ServerInfo struct {
	Path    string
	Version string
}

// DecodeServerTXT parses resource directory TXT records.
func DecodeServerTXT(txt TXTRecordMap) (*ServerInfo, error) {
	if rt, ok := txt[TXTKeyResourceType]; ok && rt != ResourceType {
		return nil, fmt.Errorf("%w: rt=%s", ErrWrongType, rt)
	}

	info := &ServerInfo{
		Path:    "/rd",
		Version: txt[TXTKeyVersion],
	}
	if p, ok := txt[TXTKeyPath]; ok {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("%w: path=%s", ErrInvalidTXTValue, p)
		}
		info.Path = p
	}
	return info, nil
}

// EncodeServerTXT creates TXT records for a resource directory.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := TXTRecordMap{TXTKeyResourceType: ResourceType}
	if info.Path != "" {
		txt[TXTKeyPath] = info.Path
	}
	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}
	return txt
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value"
// strings, sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
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
