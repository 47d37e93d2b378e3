package nfe

import (
	"fmt"
	"strings"
)

const detAcme = `<det nItem="1"><prod><cProd>A-100</cProd><xProd>Parafuso "sextavado"; M8</xProd><CFOP>5102</CFOP><uCom>UN</uCom><qCom>10.0000</qCom><vUnCom>10.00005</vUnCom><vProd>100.00</vProd></prod></det>`

const detBolts = `<det nItem="2"><prod><cProd>B-200</cProd><xProd>Porca
	M8</xProd><CFOP>5102</CFOP><uCom>CX</uCom><qCom>2</qCom><vUnCom>75.00</vUnCom><vProd>150.00</vProd></prod></det>`

func invoiceXML(id string, dets ...string) string {
	idAttr := ""
	if id != "" {
		idAttr = fmt.Sprintf(` Id="%s"`, id)
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">
  <NFe>
    <infNFe versao="4.00"` + idAttr + `>
      <ide><nNF>4521</nNF><dhEmi>2024-03-15T10:30:00-03:00</dhEmi></ide>
      <emit><CNPJ>12345678000190</CNPJ><xNome>Acme Industria Ltda</xNome><xFant>Acme</xFant></emit>
      ` + strings.Join(dets, "\n      ") + `
      <total><ICMSTot><vNF>250.00</vNF></ICMSTot></total>
      <cobr><dup><nDup>001</nDup><dVenc>2024-04-15</dVenc></dup><dup><nDup>002</nDup><dVenc>2024-05-15</dVenc></dup></cobr>
    </infNFe>
  </NFe>
  <protNFe versao="4.00"><infProt><chNFe>35240312345678000190550010000045211000045210</chNFe></infProt></protNFe>
</nfeProc>`
}

const serviceXML = `<?xml version="1.0" encoding="UTF-8"?>
<CompNfse xmlns="http://www.abrasf.org.br/nfse.xsd">
  <Nfse versao="1.00">
    <InfNfse Id="nfse-987">
      <Numero>987</Numero>
      <DataEmissao>2024-03-10T14:00:00</DataEmissao>
      <Servico>
        <Valores><ValorServicos>1200.00</ValorServicos><ValorLiquidoNfse>1134.50</ValorLiquidoNfse></Valores>
        <ItemListaServico>1.07</ItemListaServico>
        <CodigoTributacaoMunicipio>620910000</CodigoTributacaoMunicipio>
        <Discriminacao>Suporte tecnico;
mensal "marco"</Discriminacao>
      </Servico>
      <PrestadorServico>
        <IdentificacaoPrestador><Cnpj>98765432000155</Cnpj></IdentificacaoPrestador>
        <RazaoSocial>Servicos TI SA</RazaoSocial>
      </PrestadorServico>
    </InfNfse>
  </Nfse>
</CompNfse>`

const eventXML = `<?xml version="1.0" encoding="UTF-8"?>
<procEventoNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00">
  <evento><infEvento Id="ID1101113524031234567800019055001000004521100004521001"><tpEvento>110111</tpEvento></infEvento></evento>
</procEventoNFe>`
