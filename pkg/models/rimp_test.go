package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRIMP = `<RIMP>
<HSI>
<SBSN>CZ21510CFH</SBSN>
<SPN>ProLiant DL380 Gen10</SPN>
<UUID>36373738-3132-5A43-3231-353130434648</UUID>
</HSI>
<MP>
<PN>Integrated Lights-Out 5 (iLO 5)</PN>
<FWRI>2.78</FWRI>
<HWRI>ASIC: 21</HWRI>
<SN>ILOCZ21510CFH</SN>
</MP>
</RIMP>`

func TestParseRIMP(t *testing.T) {
	doc, err := ParseRIMP([]byte(sampleRIMP))
	require.NoError(t, err)

	assert.Equal(t, "CZ21510CFH", doc.HSI.SerialNumber)
	assert.Equal(t, "ProLiant DL380 Gen10", doc.HSI.ProductName)
	assert.Equal(t, "36373738-3132-5A43-3231-353130434648", doc.HSI.UUID)
	assert.Equal(t, "Integrated Lights-Out 5 (iLO 5)", doc.MP.Model)
	assert.Equal(t, "2.78", doc.MP.FirmwareVersion)
	assert.Equal(t, "ASIC: 21", doc.MP.HardwareVersion)
	assert.Equal(t, "ILOCZ21510CFH", doc.MP.SerialNumber)
}

func TestParseRIMPRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not rimp", body: "<html>login</html>"},
		{name: "empty", body: ""},
		{name: "truncated", body: "<RIMP><HSI>"},
		{name: "entity expansion", body: "<RIMP><HSI><UUID>&x;</UUID></HSI></RIMP>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRIMP([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParseRIMPTrimsUUID(t *testing.T) {
	doc, err := ParseRIMP([]byte("<RIMP><HSI><UUID>  abc-123 \n</UUID></HSI></RIMP>"))
	require.NoError(t, err)
	assert.Equal(t, "abc-123", doc.HSI.UUID)
}
