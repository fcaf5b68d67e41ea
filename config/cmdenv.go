package config

import (
	"fmt"
	"os"
	"reflect"

	"github.com/jessevdk/go-flags"
)

// CmdEnv contains all the command line options. It's separate from the
// config struct so the command line and env vars can be applied after
// loading the config files. Command line options override env vars, and
// both override values already in the struct when ApplyTags is called.
// Defaults belong in the config struct tags, not here, so that the
// defaults system has one home.
type CmdEnv struct {
	ConfigLocations []string `short:"c" long:"config" env:"FLOWMETER_CONFIG" default:"config.yaml" description:"config file(s) to load; later files override earlier ones"`
	ListenAddr      string   `long:"listen-addr" env:"FLOWMETER_LISTEN_ADDR" description:"HTTP API listen address"`
	LogLevel        string   `long:"log-level" env:"FLOWMETER_LOG_LEVEL" description:"logging level (debug, info, warn, error)"`
	Debug           bool     `short:"d" long:"debug" description:"enable the config dump endpoint"`
	NoValidate      bool     `long:"no-validate" description:"skip config validation on startup"`
	Validate        bool     `short:"V" long:"validate" description:"validate the config, reporting any errors, then exit"`
	Version         bool     `short:"v" long:"version" description:"print the version and exit"`
}

// NewCmdEnvOptions parses the given command line arguments (not including
// the program name) along with any environment variables named in the
// option tags.
func NewCmdEnvOptions(args []string) (*CmdEnv, error) {
	opts := &CmdEnv{}

	if _, err := flags.ParseArgs(opts, args); err != nil {
		switch flagsErr := err.(type) {
		case *flags.Error:
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			return nil, err
		default:
			return nil, err
		}
	}

	return opts, nil
}

// GetField returns the reflect.Value for the named field of the CmdEnv
// struct.
func (c *CmdEnv) GetField(name string) reflect.Value {
	return reflect.ValueOf(c).Elem().FieldByName(name)
}

// ApplyTags uses reflection to apply the values from the CmdEnv struct to
// the given struct. Any field that wants to be set from the command line
// carries a `cmdenv` tag naming the CmdEnv field to read. Types must
// match, and zero values in CmdEnv are not applied.
func (c *CmdEnv) ApplyTags(s reflect.Value) error {
	return applyCmdEnvTags(s, c)
}

type getFielder interface {
	GetField(name string) reflect.Value
}

func applyCmdEnvTags(s reflect.Value, fielder getFielder) error {
	switch s.Kind() {
	case reflect.Struct:
		t := s.Type()

		for i := 0; i < s.NumField(); i++ {
			field := s.Field(i)
			fieldType := t.Field(i)

			if tag := fieldType.Tag.Get("cmdenv"); tag != "" {
				value := fielder.GetField(tag)
				if !value.IsValid() {
					// the tag's value must name a field in CmdEnv
					return fmt.Errorf("programming error -- invalid field name: %s", tag)
				}
				if !field.CanSet() {
					return fmt.Errorf("programming error -- cannot set new value for: %s", fieldType.Name)
				}

				// don't overwrite values that are already set
				if !value.IsZero() {
					if fieldType.Type != value.Type() {
						return fmt.Errorf("programming error -- types don't match for field: %s (%v and %v)",
							fieldType.Name, fieldType.Type, value.Type())
					}
					field.Set(value)
				}
			}

			// recurse into any nested structs
			if err := applyCmdEnvTags(field, fielder); err != nil {
				return err
			}
		}

	case reflect.Ptr:
		if !s.IsNil() {
			return applyCmdEnvTags(s.Elem(), fielder)
		}
	}
	return nil
}
