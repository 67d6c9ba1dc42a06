package schema

// Built-in schema names.
const (
	Classification    = "classification"
	KYCClassification = "kyc_classification"
	OCRAnalysis       = "ocr_analysis"
	PIILongForm       = "pii_long_form"
	PIIStructured     = "pii_structured"
	ErrorCheck        = "error_check"
)

// Well-known field names shared by the pipeline and the built-ins.
const (
	FieldImage            = "image"
	FieldPreviousFeedback = "previous_feedback"
	FieldReferenceText    = "reference_text"
	FieldRawOCRText       = "raw_ocr_text"
	FieldHasErrors        = "has_errors"
	FieldErrorFeedback    = "error_feedback"
	FieldScore            = "score"
	FieldPIILongForm      = "pii_information_long_form"
	FieldPIIInformation   = "pii_information"
	FieldIdentification   = "identification"
)

var (
	imageInput    = Field{Name: FieldImage, Kind: KindImage, Desc: "the document image"}
	feedbackInput = Field{Name: FieldPreviousFeedback, Kind: KindString, Desc: "feedback from a previous attempt, or 'N/A' on the first attempt"}
)

// Set maps schema names to schemas.
type Set map[string]*Schema

// Get returns the named schema.
func (s Set) Get(name string) (*Schema, bool) {
	sc, ok := s[name]
	return sc, ok
}

// Builtins returns a fresh Set holding the default schemas.
func Builtins() Set {
	set := Set{}
	for _, sc := range []*Schema{
		classificationSchema(),
		kycClassificationSchema(),
		ocrAnalysisSchema(),
		piiLongFormSchema(),
		piiStructuredSchema(),
		errorCheckSchema(),
	} {
		set[sc.Name()] = sc
	}
	return set
}

func classificationSchema() *Schema {
	return MustNew(Classification,
		`You verify Know Your Customer (KYC) identification documents. Analyze the document image:
decide whether it is a passport or an ID card, find the issuing country, transcribe all visible text
exactly as printed, list security features (holograms, watermarks, microprint), describe the overall
condition, the photo, and any signs of tampering. If previous feedback is given, correct those mistakes.`,
		[]Field{imageInput, feedbackInput},
		[]Field{
			{Name: "contains_text", Kind: KindBool, Desc: "true if the image contains any text"},
			{Name: FieldRawOCRText, Kind: KindString, Desc: "complete transcription of the text with formatting notes"},
			{Name: "visual_elements", Kind: KindString, Desc: "description of non-text visual elements"},
			{Name: "is_kyc_material", Kind: KindBool, Desc: "true if the image is KYC material"},
			{Name: "doc_type", Kind: KindString, Desc: "type of document (passport or ID card)"},
			{Name: "country", Kind: KindString, Desc: "country of issue"},
			{Name: "security_features", Kind: KindString, Desc: "list of security features"},
			{Name: "condition", Kind: KindString, Desc: "overall condition and image quality"},
			{Name: "tampering", Kind: KindBool, Desc: "true if tampering is detected"},
			{Name: "personal_info", Kind: KindString, Desc: "personal information printed on the document"},
		},
	)
}

func kycClassificationSchema() *Schema {
	return MustNew(KYCClassification,
		`You verify Know Your Customer (KYC) identification documents. Decide whether the image is a
passport or an ID card, locate the issuing country, check the document format, security features,
text layout, photo integration, and look for tampering or unusual elements.`,
		[]Field{imageInput, feedbackInput},
		[]Field{
			{Name: "is_kyc_material", Kind: KindBool, Desc: "true if the image is KYC material"},
			{Name: "contains_text", Kind: KindBool, Desc: "true if the image contains any text"},
			{Name: "country", Kind: KindString, Desc: "country of issue"},
			{Name: "list_of_security_features", Kind: KindString, Desc: "list of security features, or 'N/A'"},
			{Name: "visual_elements", Kind: KindString, Desc: "description of non-text visual elements, or 'N/A'"},
		},
	)
}

func ocrAnalysisSchema() *Schema {
	return MustNew(OCRAnalysis,
		`Decide whether the image contains text and, if so, transcribe all of it: tables, headers,
footers, special characters. Do not translate. Keep the original layout where possible and describe
any non-text visual elements.`,
		[]Field{imageInput, feedbackInput},
		[]Field{
			{Name: "contains_text", Kind: KindBool, Desc: "true if the image contains any text"},
			{Name: FieldRawOCRText, Kind: KindString, Desc: "complete transcription with formatting notes, or 'N/A' if no text"},
			{Name: "visual_elements", Kind: KindString, Desc: "description of non-text visual elements, or 'N/A'"},
		},
	)
}

var identificationFields = []Field{
	{Name: "name", Kind: KindString, Desc: "full legal name"},
	{Name: "dob", Kind: KindString, Desc: "date of birth"},
	{Name: "address", Kind: KindString, Desc: "current residential address"},
	{Name: "id_number", Kind: KindString, Desc: "document or licence number"},
	{Name: "issuing_authority", Kind: KindString, Desc: "agency that issued the document"},
	{Name: "expiration_date", Kind: KindString, Desc: "expiry date"},
	{Name: "photograph", Kind: KindString, Desc: "description of the holder photo"},
	{Name: "physical_descriptors", Kind: KindString, Desc: "height, weight, eye colour and similar"},
	{Name: "signature", Kind: KindString, Desc: "description of the holder signature"},
}

const piiInstructions = `Extract the personally identifiable information shown on the document: full name,
date of birth, address, ID number, issuing authority, expiration date, photograph, physical
descriptors and signature.`

func piiLongFormSchema() *Schema {
	return MustNew(PIILongForm, piiInstructions,
		[]Field{imageInput},
		[]Field{
			{Name: FieldPIILongForm, Kind: KindString, Desc: "the extracted PII as free text"},
		},
	)
}

func piiStructuredSchema() *Schema {
	return MustNew(PIIStructured, piiInstructions+" Structure the given free-text PII into the fields below.",
		[]Field{
			{Name: FieldPIIInformation, Kind: KindString, Desc: "extracted PII in long form"},
		},
		[]Field{
			{Name: FieldIdentification, Kind: KindObject, Desc: "the PII in structured form", Fields: identificationFields},
		},
	)
}

func errorCheckSchema() *Schema {
	return MustNew(ErrorCheck,
		`Verify the completeness and accuracy of a document transcription against the image and the
reference text. Compare every field character by character: numbers, dates, name spellings, document
number formats, missing or extra information, misreadings. This is not a summary.`,
		[]Field{
			imageInput,
			{Name: FieldReferenceText, Kind: KindString, Desc: "ground-truth transcription, or 'N/A'"},
			{Name: FieldRawOCRText, Kind: KindString, Desc: "the transcription under review"},
		},
		[]Field{
			{Name: FieldHasErrors, Kind: KindBool, Desc: "true if any errors or missing information were found"},
			{Name: FieldErrorFeedback, Kind: KindString, Desc: "detailed feedback about errors or missing information, or 'N/A'"},
			{Name: FieldScore, Kind: KindFloat, Desc: "accuracy score of the transcription"},
		},
	)
}
