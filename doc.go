// Package delayline provides a real-time multi-channel fractional delay line
// in pure Go.
//
// Each channel keeps a circular history of 131072 samples and reads it back
// at a fractional position. The delay is set either directly as a time or
// from a distance, in which case it becomes the round trip time of sound
// (2 * distance / 343 m/s). Changing the delay ramps it linearly across the
// next block, which bends pitch the way a moving source would.
//
// # Features
//
//   - Four read kernels: linear, power-complementary, 4-point Lagrange and
//     a hybrid that reads straight from the oversampled history
//   - Optional 2x to 16x oversampling with linear, windowed-sinc or
//     polyphase FIR upsampling
//   - Feedback and wet/dry mixing
//   - Lock-free parameters that a control goroutine may change while audio runs
//   - Pluggable allocator, with a budgeted allocator for memory-capped hosts
//   - Optional SIMD acceleration via github.com/tphakala/simd
//
// # Quick Start
//
// For one-shot processing:
//
//	params := delayline.NewParameters()
//	_ = params.SetParam(delayline.ParamDistance, 0) // use the delay time
//	_ = params.SetParam(delayline.ParamDelayTime, 0.25)
//	output, err := delayline.DelayMono(input, 48000, params)
//
// For streaming, create an effect once and process blocks in place:
//
//	fx, err := delayline.New(&delayline.Config{
//	    SampleRate: 48000,
//	    Channels:   2,
//	    MaxFrames:  512,
//	    Params:     params,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fx.Terminate()
//
//	for block := range blocks {
//	    if err := fx.Process(block, 512); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Parameters
//
// Delay time, wet/dry mix, feedback and distance are real-time values.
// [Effect.Process] samples them once per block. Interpolation, oversampling
// factor and upsampling method are read when the effect is created.
// Parameters can be serialised to and loaded from a 24 or 28 byte
// little-endian block with [Parameters.SetParamsBlock] and
// [Parameters.MarshalBinary].
//
// # Thread Safety
//
// [Parameters] may be written from any goroutine. Calls on one [Effect]
// must be serialized.
package delayline
