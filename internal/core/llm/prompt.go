package llm

import "strings"

const systemPrompt = "Eres un experto en extracción de datos de reportes veterinarios. " +
	"Extrae la información de forma precisa y estructurada en formato JSON."

const connectionPrompt = `Responde solo "OK" si puedes procesar este mensaje.`

const promptHeader = `Analiza el siguiente reporte veterinario y extrae la información estructurada en formato JSON.

NOTA SOBRE FECHAS: En Argentina se usa formato DD/MM/YYYY. Si ves "07/08/2025" significa 7 de agosto de 2025 (no 8 de julio).

REPORTE:
`

const promptSchema = `

Extrae estos campos en formato JSON válido:
{
  "patient": {
    "name": "string or null",
    "species": "string or null",
    "breed": "string or null",
    "age": "string or null",
    "weight": "string or null",
    "owner": "string or null"
  },
  "veterinarian": {
    "name": "string or null",
    "license": "string or null",
    "title": "string or null",
    "clinic": "string or null",
    "contact": "string or null",
    "referredBy": "string or null"
  },
  "study": {
    "type": "string or null",
    "date": "string in format DD/MM/YYYY (ej: 07/08/2025)",
    "technique": "string or null",
    "bodyRegion": "string or null",
    "equipment": "string or null",
    "incidences": ["array of strings"],
    "echoData": {}
  },
  "findings": "string or null",
  "diagnosis": "string or null",
  "differentials": ["array of strings"],
  "recommendations": ["array of strings"],
  "measurements": {},
  "confidence": "Number between 0 and 100, 0 is the lowest confidence and 100 is the highest confidence"
}

IMPORTANTE:
- Responde ÚNICAMENTE con el JSON válido, sin texto adicional.
- Para las fechas, usa formato DD/MM/YYYY (formato argentino). Ejemplo: 07/08/2025 = 7 de agosto de 2025.
- Si la fecha aparece como "07/08/2025" en el PDF, significa 7 de agosto de 2025, NO 8 de julio.`

// BuildPrompt embeds the report text in the extraction instructions.
func BuildPrompt(text string) string {
	var b strings.Builder
	b.Grow(len(promptHeader) + len(text) + len(promptSchema))
	b.WriteString(promptHeader)
	b.WriteString(text)
	b.WriteString(promptSchema)
	return b.String()
}
