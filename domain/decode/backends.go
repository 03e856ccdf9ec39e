package decode

import (
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// zxingDecoder adapts a gozxing reader to the Decoder interface. Reader
// misses (no code in the image) are normal outcomes, not errors.
type zxingDecoder struct {
	name   string
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

func decodeHints() map[gozxing.DecodeHintType]interface{} {
	return map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
}

// NewDataMatrixDecoder reads DataMatrix marks, the most common symbology on
// machined parts.
func NewDataMatrixDecoder() Decoder {
	return &zxingDecoder{name: "datamatrix", reader: datamatrix.NewDataMatrixReader(), hints: decodeHints()}
}

func NewQRDecoder() Decoder {
	return &zxingDecoder{name: "qr", reader: qrcode.NewQRCodeReader(), hints: decodeHints()}
}

// NewOneDDecoder reads the linear symbologies (Code 128, Code 39, EAN and
// friends) through the multi-format reader.
func NewOneDDecoder() Decoder {
	hints := decodeHints()
	return &zxingDecoder{name: "oned", reader: oned.NewMultiFormatOneDReader(hints), hints: hints}
}

// DefaultDecoders returns the backend chain in merge order.
func DefaultDecoders() []Decoder {
	return []Decoder{NewDataMatrixDecoder(), NewQRDecoder(), NewOneDDecoder()}
}

func (d *zxingDecoder) Name() string { return d.name }

func (d *zxingDecoder) Decode(img *image.Gray) ([]string, error) {
	src := gozxing.NewLuminanceSourceFromImage(img)
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return nil, fmt.Errorf("%s: build bitmap: %w", d.name, err)
	}
	result, err := d.reader.Decode(bmp, d.hints)
	if err != nil {
		// gozxing signals "nothing found" through its exception types.
		return nil, nil
	}
	text := result.GetText()
	if text == "" {
		return nil, nil
	}
	return []string{text}, nil
}

var _ Decoder = (*zxingDecoder)(nil)
