package tradeid

import (
	"crypto/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestRoundTripRandom(t *testing.T) {
	for i := 0; i < 256; i++ {
		var id uuid.UUID
		_, err := rand.Read(id[:])
		require.NoError(t, err)

		back, err := ToTradeID(ToLedgerID(id))
		require.NoError(t, err)
		require.Equal(t, id, back)

		parsed, err := uuid.Parse(back.String())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	}
}

func TestRoundTripLeadingZeroBytes(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-0000000000ff")
	ledger := ToLedgerID(id)
	require.Equal(t, uint64(255), ledger.Uint64())

	back, err := ToTradeID(ledger)
	require.NoError(t, err)
	require.Equal(t, "00000000-0000-0000-0000-0000000000ff", back.String())

	zero, err := ToTradeID(new(uint256.Int))
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, zero)
}

func TestLedgerIntegerIsBigEndianValue(t *testing.T) {
	id := uuid.MustParse("01020304-0506-0708-090a-0b0c0d0e0f10")
	want, err := uint256.FromHex("0x102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)
	require.True(t, want.Eq(ToLedgerID(id)))
}

func TestMaxValue(t *testing.T) {
	id := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")
	dec := FormatLedgerID(id)
	require.Equal(t, "340282366920938463463374607431768211455", dec)

	back, err := ParseLedgerID(dec)
	require.NoError(t, err)
	require.Equal(t, id, back)
}

func TestParseLedgerIDRejectsOverflow(t *testing.T) {
	_, err := ParseLedgerID("340282366920938463463374607431768211456")
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = ParseLedgerID("not-a-number")
	require.ErrorIs(t, err, ErrInvalid)

	_, err = ParseLedgerID("")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParseLedgerIDHex(t *testing.T) {
	id, err := ParseLedgerID("0x00ff")
	require.NoError(t, err)
	require.Equal(t, "00000000-0000-0000-0000-0000000000ff", id.String())

	id, err = ParseLedgerID("0x0")
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, id)
}
