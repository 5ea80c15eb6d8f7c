package profile

import (
	"github.com/mitchellh/mapstructure"
)

// decodeDevice wires mitchellh/mapstructure (as used by SilvaMendes'
// go-rtpengine for its own map[string]any decoding, the ng control
// protocol's parameter blocks) to decode a loosely-typed configuration
// document into the strict Device struct, with weak type conversion so
// numeric ports arriving as JSON floats or strings still land correctly.
func decodeDevice(m map[string]any, out *Device) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "profile",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(m)
}
