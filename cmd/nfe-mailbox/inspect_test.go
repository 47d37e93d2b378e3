package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">
  <NFe>
    <infNFe versao="4.00" Id="NFe123">
      <ide><nNF>4521</nNF><dhEmi>2024-03-15T10:30:00-03:00</dhEmi></ide>
      <emit><CNPJ>12345678000190</CNPJ><xNome>Acme Industria Ltda</xNome></emit>
      <det nItem="1"><prod><cProd>A-100</cProd><xProd>Parafuso</xProd><CFOP>5102</CFOP><uCom>UN</uCom><qCom>10</qCom><vUnCom>25.00</vUnCom><vProd>250.00</vProd></prod></det>
      <total><ICMSTot><vNF>250.00</vNF></ICMSTot></total>
    </infNFe>
  </NFe>
</nfeProc>`

func runRoot(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInspect_Invoice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "NFe123.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleInvoice), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"inspect", path})
	require.NoError(t, root.Execute())

	var got inspection
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "invoice", got.Kind)
	require.NotNil(t, got.Header)
	assert.Equal(t, "NFe123", got.Header.DocumentID)
	assert.Equal(t, "2024-03-15 13:30:00", got.Header.IssuedAt)
	assert.Greater(t, got.Header.BatchSequence, 0.0)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 25.0, got.Lines[0].UnitPrice)
}

func TestInspect_EventFromStdin(t *testing.T) {
	event := `<procEventoNFe><evento><infEvento Id="ID1"/></evento></procEventoNFe>`
	out, err := runRoot(t, event, "inspect", "-")
	require.NoError(t, err)

	var got inspection
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "event", got.Kind)
	assert.Nil(t, got.Header)
	assert.Contains(t, got.Reason, "not admissible")
}

func TestInspect_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xml")
	require.NoError(t, os.WriteFile(path, []byte("<nfeProc><NFe>"), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"inspect", path})
	assert.Error(t, root.Execute())
}

func TestPurge_RequiresConfirmation(t *testing.T) {
	_, err := runRoot(t, "", "purge", "NFe123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestMissingExplicitEnvFile(t *testing.T) {
	_, err := runRoot(t, "", "--env-file", filepath.Join(t.TempDir(), "missing.env"), "inspect", "-")
	assert.Error(t, err)
}
