package conf

import (
	"encoding/json"
	"io"
	"os"
)

// DiskConfig locates a filesystem image and tunes diagnostics.
type DiskConfig struct {
	ImagePath string `json:"imagePath"` // path to the backing disk image
	LogLevel  string `json:"logLevel"`  // logrus level name, empty means info
}

func (c *DiskConfig) ReadConfig(file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	d := json.NewDecoder(f)
	return d.Decode(c)
}

func (c *DiskConfig) Write(out io.Writer) error {
	return json.NewEncoder(out).Encode(c)
}

func (c *DiskConfig) Writef(file string) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Write(f)
}
