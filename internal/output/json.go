package output

import "encoding/json"

// JSONFormatter renders a report as JSON, indented for terminals.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}

	marshal := json.Marshal
	if f.Indent {
		marshal = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	data, err := marshal(report)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
