package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/valpere/tradutor/internal/placeholder"
	"github.com/valpere/tradutor/internal/postprocess"
	"github.com/valpere/tradutor/internal/store"
)

// glossaryPromptLimit caps the number of glossary terms sent with a chunk.
const glossaryPromptLimit = 100

const desquebrarTemplate = `UNA APENAS AS QUEBRAS DE LINHA ERRADAS DO TEXTO ENTRE AS MARCAS ABAIXO.
NAO REESCREVA, NAO TRADUZA, NAO RESUMA, NAO ADICIONE NADA.
NAO TROQUE PALAVRAS, NAO MUDE PONTUACAO, NAO MUDE NENHUM TERMO.
RETORNE SOMENTE O TEXTO CORRIGIDO, SEM CABECALHOS OU COMENTARIOS.

TEXTO:
"""%s"""`

func desquebrarPrompt(chunk string) string {
	return fmt.Sprintf(desquebrarTemplate, chunk)
}

const translateTemplate = `You are a professional translator. Translate the text from ENGLISH to BRAZILIAN PORTUGUESE.

Do not summarize. Do not add explanations, comments, or glossaries.
Do not invent new sentences or events. Do not skip any part of the original text.
Do not replace content with "...". Preserve paragraph breaks as much as possible.
Keep names and proper nouns as is unless a clear translation is standard.

Nao resuma o texto. Nao acrescente comentarios ou glossario.
Nao omita frases. Nao use "..." para pular partes do conteudo.
Preserve a ordem e o conteudo de todas as frases.
%s
Your response must be EXACTLY in this format and nothing else:
` + postprocess.TranslateStart + `
<traducao para PT-BR>
` + postprocess.TranslateEnd + `

%s%sTEXTO A SER TRADUZIDO:
"""%s"""`

// translatePrompt builds the translation prompt. context is the last
// sentence of the previous source chunk; glossary is a formatted block.
func translatePrompt(chunk, context, glossary string, protected bool) string {
	hint := ""
	if protected {
		hint = placeholder.Hint() + "\n"
	}
	glossaryBlock := ""
	if glossary != "" {
		glossaryBlock = "VOCE DEVE SEGUIR EXATAMENTE AS TRADUCOES OFICIAIS DO GLOSSARIO ABAIXO.\n" +
			"NAO DEVE CRIAR OUTRAS VERSOES. NAO DEVE ALTERAR NOMES PROPRIOS.\n" +
			"NAO DEVE ADICIONAR EXPLICACOES.\n" +
			glossary + "\n\n"
	}
	contextBlock := ""
	if c := strings.TrimSpace(context); c != "" {
		contextBlock = "CONTEXT (DO NOT TRANSLATE OR REWRITE):\n\"" + c + "\"\n\n"
	}
	return fmt.Sprintf(translateTemplate, hint, glossaryBlock, contextBlock, chunk)
}

const refineTemplate = `Você atuará como um POLIDOR MINIMALISTA.

Reescreva o texto abaixo sem alterar fatos, ordem, diálogos ou conteúdo narrativo.
Corrija apenas pequenos erros de digitação e vírgulas, e resolva artefatos de OCR/PDF.
NÃO resuma. NÃO expanda. NÃO interprete. NÃO remova ideias. NÃO adicione nada.
NÃO envolva a saída em molduras ou comentários. NÃO inclua glossários.
NÃO use "..." para representar conteúdo omitido. NÃO mude o idioma.
Preserve todos os parágrafos, falas e informações.

Formate sua resposta EXATAMENTE assim e nada mais:
` + postprocess.RefineStart + `
<texto refinado>
` + postprocess.RefineEnd + `

Texto para revisão (PT-BR):
"""%s"""`

func refinePrompt(chunk string) string {
	return fmt.Sprintf(refineTemplate, chunk)
}

// FormatGlossary renders glossary entries for the translation prompt,
// sorted by source term and capped at glossaryPromptLimit. It returns ""
// when no entry is usable.
func FormatGlossary(entries []store.GlossaryEntry) string {
	sorted := make([]store.GlossaryEntry, 0, len(entries))
	for _, en := range entries {
		if strings.TrimSpace(en.SourceTerm) != "" && strings.TrimSpace(en.TargetTerm) != "" {
			sorted = append(sorted, en)
		}
	}
	if len(sorted) == 0 {
		return ""
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].SourceTerm) < strings.ToLower(sorted[j].SourceTerm)
	})
	if len(sorted) > glossaryPromptLimit {
		sorted = sorted[:glossaryPromptLimit]
	}

	var sb strings.Builder
	sb.WriteString("GLOSSÁRIO CANÔNICO (use SEMPRE estas traduções):")
	for _, en := range sorted {
		fmt.Fprintf(&sb, "\n- %s -> %s", strings.TrimSpace(en.SourceTerm), strings.TrimSpace(en.TargetTerm))
	}
	return sb.String()
}
