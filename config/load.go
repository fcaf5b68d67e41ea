package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatUnknown Format = "unknown"
	FormatYAML    Format = "yaml"
	FormatJSON    Format = "json"
	FormatTOML    Format = "toml"
)

// formatFromFilename returns the format of the file based on the filename
// extension.
func formatFromFilename(filename string) Format {
	switch filepath.Ext(filename) {
	case ".yaml", ".yml", ".YAML", ".YML":
		return FormatYAML
	case ".toml", ".TOML":
		return FormatTOML
	case ".json", ".JSON":
		return FormatJSON
	default:
		return FormatUnknown
	}
}

// formatFromResponse returns the format of the file based on the
// Content-Type header.
func formatFromResponse(resp *http.Response) Format {
	switch resp.Header.Get("Content-Type") {
	case "application/json", "text/json":
		return FormatJSON
	case "application/x-toml", "application/toml", "text/x-toml", "text/toml":
		return FormatTOML
	case "application/x-yaml", "application/yaml", "text/x-yaml", "text/yaml":
		return FormatYAML
	default:
		return FormatUnknown
	}
}

// getReaderFor returns an io.ReadCloser for the given URL or filename.
func getReaderFor(u string) (io.ReadCloser, Format, error) {
	if u == "" {
		return nil, FormatUnknown, errors.New("empty config location")
	}
	uu, err := url.Parse(u)
	if err != nil {
		return nil, FormatUnknown, err
	}
	switch uu.Scheme {
	case "file", "": // we treat an empty scheme as a filename
		r, err := os.Open(uu.Path)
		if err != nil {
			return nil, FormatUnknown, err
		}
		return r, formatFromFilename(uu.Path), nil
	case "http", "https":
		resp, err := http.Get(u)
		if err != nil {
			return nil, FormatUnknown, err
		}
		format := formatFromResponse(resp)
		// if the Content-Type header didn't tell us, the path may hint
		if format == FormatUnknown {
			format = formatFromFilename(uu.Path)
		}
		return resp.Body, format, nil
	default:
		return nil, FormatUnknown, errors.Errorf("unknown scheme %q", uu.Scheme)
	}
}

func load(r io.Reader, format Format, into any) error {
	var err error
	switch format {
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(into)
	case FormatTOML:
		err = toml.NewDecoder(r).Decode(into)
	case FormatJSON:
		err = json.NewDecoder(r).Decode(into)
	default:
		return errors.New("unable to determine data format")
	}
	// an empty file is a valid config; everything defaults
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// loadConfigsInto loads the named configs into dest in the order they are
// listed; later files override earlier ones field by field. It returns the
// md5 hash of all the config bytes read, used to tell config versions
// apart in logs.
func loadConfigsInto(dest any, locations []string) (string, error) {
	h := md5.New()
	for _, location := range locations {
		location := strings.TrimSpace(location)
		r, format, err := getReaderFor(location)
		if err != nil {
			return "", err
		}
		defer r.Close()
		// write the data to the hash as we read it
		rdr := io.TeeReader(r, h)

		// when decoding into a struct, load only overwrites fields that
		// are explicitly named, so successive files overlay cleanly
		if err := load(rdr, format, dest); err != nil {
			return "", errors.Wrapf(err, "loadConfigsInto unable to load config %s", location)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// readConfigInto reads the config from the given locations into dest,
// then applies defaults to the fields still at their zero values and
// overlays any command line options.
func readConfigInto(dest any, locations []string, opts *CmdEnv) (string, error) {
	hash, err := loadConfigsInto(dest, locations)
	if err != nil {
		return hash, err
	}
	if opts == nil {
		return hash, nil
	}

	if err := defaults.Set(dest); err != nil {
		return hash, errors.Wrap(err, "readConfigInto unable to apply defaults")
	}

	if err := opts.ApplyTags(reflect.ValueOf(dest)); err != nil {
		return hash, errors.Wrap(err, "readConfigInto unable to apply command line options")
	}

	return hash, nil
}

// loadConfigsIntoMap is loadConfigsInto for a map destination, used by
// validation. Maps don't overlay on decode the way structs do, so each
// file is decoded separately and merged by hand; configs are never more
// than two levels deep.
func loadConfigsIntoMap(dest map[string]any, locations []string) error {
	for _, location := range locations {
		location := strings.TrimSpace(location)
		r, format, err := getReaderFor(location)
		if err != nil {
			return err
		}
		defer r.Close()

		temp := make(map[string]any)
		if err := load(r, format, &temp); err != nil {
			return errors.Wrapf(err, "loadConfigsIntoMap unable to load config %s", location)
		}
		for k, v := range temp {
			switch vm := v.(type) {
			case map[string]any:
				if dest[k] == nil {
					dest[k] = vm
				} else {
					for kk, vv := range vm {
						dest[k].(map[string]any)[kk] = vv
					}
				}
			default:
				dest[k] = v
			}
		}
	}
	return nil
}
