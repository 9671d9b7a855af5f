package domain

import "fmt"

// Severity 人群密度等级，按 safe < normal < warning < danger 排序
type Severity int

const (
	SeveritySafe Severity = iota
	SeverityNormal
	SeverityWarning
	SeverityDanger
)

var severityNames = [...]string{"safe", "normal", "warning", "danger"}

func (s Severity) String() string {
	if s < SeveritySafe || s > SeverityDanger {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity 解析等级字符串
func ParseSeverity(v string) (Severity, error) {
	for i, name := range severityNames {
		if name == v {
			return Severity(i), nil
		}
	}
	return SeveritySafe, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, v)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
