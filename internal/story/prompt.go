package story

import (
	"fmt"
	"strings"

	"taleBook/internal/database"
	"taleBook/internal/llm"
)

const systemPrompt = "Tu es un assistant qui crée des histoires originales et adaptées aux enfants."

// PromptInput 是构造故事提示词所需的全部信息。
type PromptInput struct {
	Theme      string
	Keywords   string
	Age        int
	Sex        string
	Characters []database.Character
}

// BuildPrompt 返回 system + user 两条消息。
func BuildPrompt(in PromptInput) []llm.Message {
	var b strings.Builder
	b.WriteString("Peux-tu écrire une histoire originale en français, d'environ 1000 mots (pas moins de 900), pour un enfant ?\n\n")
	b.WriteString("Critères :\n")
	fmt.Fprintf(&b, "- Thème : %s\n", in.Theme)
	fmt.Fprintf(&b, "- Mots-clés : %s\n", in.Keywords)
	fmt.Fprintf(&b, "- Âge de l'enfant : %d ans\n", in.Age)
	fmt.Fprintf(&b, "- Sexe de l'enfant : %s\n", in.Sex)
	if len(in.Characters) > 0 {
		b.WriteString("- Personnages à faire apparaître :\n")
		for _, c := range in.Characters {
			fmt.Fprintf(&b, "  - %s : %s\n", c.Name, c.Description)
		}
	}
	b.WriteString("\n")
	b.WriteString("L'histoire ne doit pas être trop proche des contes classiques traditionnels, mais rester compréhensible et adaptée à l'âge indiqué. Intègre les mots-clés.\n")
	b.WriteString("J'aimerais que tu insères une illustration tous les 100 mots environ, au format [ILLUSTRATION : description de l'image].\n")
	b.WriteString("Commence par une ligne « Titre : <titre de l'histoire> », puis une ligne vide.\n")
	b.WriteString("À la fin, remets le tout dans un fichier texte lisible par un enfant. Ne termine pas par “Fin de l’histoire” ni par des crédits d’illustration ou d’auteur. ")
	b.WriteString("Arrête l’histoire après la dernière phrase, sans ajouter d’autre mention. Et assures toi bien qu'on est proche des 1000 mots (pas moins de 900)")

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func summaryPrompt(paragraph string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "Tu es un assistant qui résume des textes."},
		{Role: llm.RoleUser, Content: "Résumé ce paragraphe pour un prompt d'image : " + paragraph},
	}
}
