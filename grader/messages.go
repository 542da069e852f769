package grader

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Supported lists the languages with a full message catalog. The first entry is the default.
var Supported = []language.Tag{
	language.English,
	language.BrazilianPortuguese,
}

var matcher = language.NewMatcher(Supported)

// DefaultPrinter returns a printer for the default language.
func DefaultPrinter() *message.Printer {
	return message.NewPrinter(Supported[0])
}

// MatchLanguage picks the best supported language for the given preferences,
// e.g. the tags parsed from an Accept-Language header.
func MatchLanguage(preferred ...language.Tag) language.Tag {
	_, index, _ := matcher.Match(preferred...)
	return Supported[index]
}

func init() {
	en := language.English
	message.SetString(en, "invalidparameter", "Invalid parameter value detected: %s")
	message.SetString(en, "errornoactivity", "No activity found with idnumber %s")
	message.SetString(en, "errornomodulegrades", "Activity %s (%s) does not support grades")
	message.SetString(en, "errornocapability", "User %s does not have the required capability %s")
	message.SetString(en, "errornocourseuser", "No user with email %s is enrolled in the course")
	message.SetString(en, "errortoomanyusers", "More than one user in the course matches email %s")
	message.SetString(en, "errornoupdater", "No grade update routine is registered for activity type %s")
	message.SetString(en, "errorgradeupdate", "Grade update failed")
	message.SetString(en, "errorgradelocked", "Grade item is locked")
	message.SetString(en, "errorgrademultiple", "Multiple grade items matched")
	message.SetString(en, "invalidtoken", "Invalid token - token not found or expired")
	message.SetString(en, "accessexception", "Access control exception: %s")
	message.SetString(en, "invalidfunction", "Unknown web service function %s")
	message.SetString(en, "dberror", "Database error")

	pt := language.BrazilianPortuguese
	message.SetString(pt, "invalidparameter", "Valor de parâmetro inválido: %s")
	message.SetString(pt, "errornoactivity", "Nenhuma atividade encontrada com idnumber %s")
	message.SetString(pt, "errornomodulegrades", "A atividade %s (%s) não suporta notas")
	message.SetString(pt, "errornocapability", "O usuário %s não tem a permissão necessária %s")
	message.SetString(pt, "errornocourseuser", "Nenhum usuário com email %s está inscrito no curso")
	message.SetString(pt, "errortoomanyusers", "Mais de um usuário do curso corresponde ao email %s")
	message.SetString(pt, "errornoupdater", "Nenhuma rotina de atualização de nota registrada para o tipo %s")
	message.SetString(pt, "errorgradeupdate", "Falha ao atualizar a nota")
	message.SetString(pt, "errorgradelocked", "O item de nota está bloqueado")
	message.SetString(pt, "errorgrademultiple", "Mais de um item de nota encontrado")
	message.SetString(pt, "invalidtoken", "Token inválido - token não encontrado ou expirado")
	message.SetString(pt, "accessexception", "Exceção de controle de acesso: %s")
	message.SetString(pt, "invalidfunction", "Função de web service desconhecida %s")
	message.SetString(pt, "dberror", "Erro de banco de dados")
}
