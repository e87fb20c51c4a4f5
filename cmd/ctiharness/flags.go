package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/ctiharness/internal/config"
)

// GlobalFlags holds flags that are not configuration keys.
type GlobalFlags struct {
	ConfigPath string
}

// bindConfigFlags defines one flag per configuration key and binds it into v, so
// precedence is flag, environment, config file, default.
func bindConfigFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	for _, o := range config.Options {
		usage := fmt.Sprintf("%s (env %s)", o.Usage, o.Env)
		switch def := o.Default.(type) {
		case string:
			fs.String(o.Flag(), def, usage)
		case int:
			fs.Int(o.Flag(), def, usage)
		case bool:
			fs.Bool(o.Flag(), def, usage)
		case time.Duration:
			fs.Duration(o.Flag(), def, usage)
		case []string:
			fs.StringArray(o.Flag(), def, usage)
		default:
			return fmt.Errorf("no flag type for option %s (%T)", o.Key, def)
		}
		if err := v.BindPFlag(o.Key, fs.Lookup(o.Flag())); err != nil {
			return err
		}
	}
	return nil
}
