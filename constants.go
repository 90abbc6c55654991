package delayline

// Channel and block limits
const (
	maxChannels      = 256  // Maximum supported channel count
	defaultMaxFrames = 1024 // Block size used when Config.MaxFrames is 0
)

// Parameter defaults, applied when a Parameters is created or loaded from an
// empty block.
const (
	DefaultDelayTime     = 0.1  // seconds
	DefaultWetDryMix     = 1.0  // fully wet
	DefaultFeedback      = 0.0  // single echo
	DefaultDistance      = 10.0 // metres
	DefaultInterpolation = InterpLinear
	DefaultOversampling  = 1
	DefaultUpsampling    = UpsamplePolyphase
)

// Parameter block layout: four little-endian float32 RTPC values followed by
// two uint32 enums, optionally a third uint32 for the upsampling method.
const (
	rtpcFieldCount   = 4
	enumFieldCount   = 2
	fieldSize        = 4
	paramsBlockSize  = (rtpcFieldCount + enumFieldCount) * fieldSize // 24
	paramsBlockSizeX = paramsBlockSize + fieldSize                   // 28, with upsampling method
)
