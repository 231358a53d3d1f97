// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "Stripdeck")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "stripdeck.log")
	viper.SetDefault("main.log.maxsize", 10)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxage", 28)
	viper.SetDefault("main.stripspath", "")
	viper.SetDefault("main.telemetrylisten", "")

	viper.SetDefault("engine.signature", NodeSignature)
	viper.SetDefault("engine.nodepollretries", 10)
	viper.SetDefault("engine.nodepolldelayms", 100)
	viper.SetDefault("engine.zombiesettlems", 200)
	viper.SetDefault("engine.commandtimeouts", 5)
	viper.SetDefault("engine.snapshotcachems", 250)

	viper.SetDefault("fx.plugindirs", []string{"/usr/lib/ladspa", "/usr/local/lib/ladspa"})
	viper.SetDefault("fx.verifytimeoutms", 3000)
	viper.SetDefault("fx.verifypollms", 150)

	viper.SetDefault("metering.blocksize", 2048)
	viper.SetDefault("metering.gain", 5.0)
}
