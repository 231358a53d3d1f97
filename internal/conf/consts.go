// conf/consts.go hard coded constants
package conf

const (
	SampleRate  = 48000 // Sample rate used for metering capture streams
	BitDepth    = 16    // Bit depth of captured audio
	NumChannels = 2     // Stereo capture for left/right metering

	// NodeSignature marks every PipeWire object this engine creates.
	// Zombie cleanup destroys anything carrying it.
	NodeSignature = "Stripdeck_"

	// StripNodePrefix and FXNodePrefix build deterministic node names.
	StripNodePrefix = NodeSignature + "Strip_"
	FXNodePrefix    = NodeSignature + "FX_"
)
