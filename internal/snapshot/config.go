package snapshot

import (
	"fmt"
)

const (
	DefaultIDField   = "id"
	DefaultTextField = "contents"
	DefaultRawField  = "raw"
)

// Config names the fields a snapshot is read through. It is fixed when the
// store is opened.
type Config struct {
	IDField     string
	TextField   string
	RawField    string
	TermVectors bool
}

func DefaultConfig() Config {
	return Config{
		IDField:     DefaultIDField,
		TextField:   DefaultTextField,
		RawField:    DefaultRawField,
		TermVectors: true,
	}
}

func (c Config) Validate() error {
	if c.IDField == "" {
		return fmt.Errorf("snapshot config: identifier field name is empty")
	}
	if c.TextField == "" {
		return fmt.Errorf("snapshot config: text field name is empty")
	}
	if c.IDField == c.TextField {
		return fmt.Errorf("snapshot config: identifier and text field are both %q", c.IDField)
	}
	return nil
}
