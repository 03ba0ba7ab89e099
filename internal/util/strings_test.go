package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"HelloWorld":      "hello_world",
		"Hello_World":     "hello_world",
		"Hello-World":     "hello_world",
		"hello-world":     "hello_world",
		"helloWorld":      "hello_world",
		"ABc   wOW":       "a_bc_w_o_w",
		"pallet-balances": "pallet_balances",
		"frame_system":    "frame_system",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToSnakeCase(in), in)
	}
}

func TestToPascalCase(t *testing.T) {
	tests := map[string]string{
		"HelloWorld":  "HelloWorld",
		"Hello_World": "HelloWorld",
		"Hello-World": "HelloWorld",
		"helloWorld":  "HelloWorld",
		"balances":    "Balances",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToPascalCase(in), in)
	}
}

func TestPalletAlias(t *testing.T) {
	assert.Equal(t, "Balances", PalletAlias("pallet-balances"))
	assert.Equal(t, "Balances", PalletAlias("balances"))
	assert.Equal(t, "TransactionPayment", PalletAlias("pallet_transaction_payment"))
	assert.Equal(t, "Pallet", PalletAlias("pallet"))
}
