package setups

import (
	"testing"

	"github.com/stretchr/testify/require"

	"busmux-go/services/config"
)

// The Go-literal plan and the embedded YAML plan describe the same board.
func TestPicoRichDevMatchesEmbedded(t *testing.T) {
	p, err := config.Embedded(PicoRichDev.Board)
	require.NoError(t, err)

	cfgs := p.Configs()
	require.Len(t, cfgs, len(PicoRichDev.Devices))
	for i, d := range PicoRichDev.Devices {
		require.Equal(t, p.Devices[i].Name, d.Name)
		require.Equal(t, cfgs[i], d.Cfg, d.Name)
	}
}
