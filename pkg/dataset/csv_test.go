package dataset

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRecords_HeaderAlwaysPresent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, nil))
	assert.Equal(t, "Epoch,Slot,Validator Index,Public Key\n", buf.String())
}

func TestWriteRecords(t *testing.T) {
	records := []duty.Record{
		{Epoch: 356160, Slot: "11397120", ValidatorIndex: "1234", PublicKey: "0xabc"},
		{Epoch: 356160, Slot: "11397121", ValidatorIndex: duty.NotAvailable, PublicKey: duty.NotAvailable},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, records))

	want := "Epoch,Slot,Validator Index,Public Key\n" +
		"356160,11397120,1234,0xabc\n" +
		"356160,11397121,N/A,N/A\n"
	assert.Equal(t, want, buf.String())
}

func TestReadRecords_RoundTrip(t *testing.T) {
	records := []duty.Record{
		{Epoch: 1, Slot: "32", ValidatorIndex: "7", PublicKey: "0x01"},
		{Epoch: 2, Slot: "64", ValidatorIndex: "8", PublicKey: "0x02, quoted"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, records))

	got, err := ReadRecords(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestReadEpochColumn(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []uint64
		wantErr error
	}{
		{
			name:  "duties csv",
			input: "Epoch,Slot,Validator Index,Public Key\n5,160,1,0x1\n5,161,2,0x2\n6,192,3,0x3\n",
			want:  []uint64{5, 5, 6},
		},
		{
			name:  "column located by name",
			input: "Slot,Epoch\n160,5\n192,6\n",
			want:  []uint64{5, 6},
		},
		{
			name:  "byte order mark and spaces",
			input: "\ufeffEpoch ,Slot\n 7 ,224\n",
			want:  []uint64{7},
		},
		{
			name:  "header only",
			input: "Epoch,Slot,Validator Index,Public Key\n",
			want:  nil,
		},
		{
			name:    "missing column",
			input:   "Slot,Validator Index\n1,2\n",
			wantErr: ErrMissingColumn,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: ErrMissingColumn,
		},
		{
			name:    "invalid epoch",
			input:   "Epoch\n5\nfive\n",
			wantErr: ErrInvalidEpoch,
		},
		{
			name:    "negative epoch",
			input:   "Epoch\n-1\n",
			wantErr: ErrInvalidEpoch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadEpochColumn(strings.NewReader(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadEpochColumn_ReportsLine(t *testing.T) {
	_, err := ReadEpochColumn(strings.NewReader("Epoch\n1\n2\nx\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 4")
}
