package format

// enum maps the JSON text of a member's value to its name.
type enum map[string]string

var enums = map[string]enum{
	"MessageType": {"1": "Error", "2": "Warning", "3": "Info", "4": "Log", "5": "Debug"},
	"CompletionItemKind": {
		"1": "Text", "2": "Method", "3": "Function", "4": "Constructor", "5": "Field",
		"6": "Variable", "7": "Class", "8": "Interface", "9": "Module", "10": "Property",
		"11": "Unit", "12": "Value", "13": "Enum", "14": "Keyword", "15": "Snippet",
		"16": "Color", "17": "File", "18": "Reference", "19": "Folder", "20": "EnumMember",
		"21": "Constant", "22": "Struct", "23": "Event", "24": "Operator", "25": "TypeParameter",
	},
	"CompletionItemTag":  {"1": "Deprecated"},
	"DiagnosticSeverity": {"1": "Error", "2": "Warning", "3": "Information", "4": "Hint"},
	"DiagnosticTag":      {"1": "Unnecessary", "2": "Deprecated"},
	"SymbolKind": {
		"1": "File", "2": "Module", "3": "Namespace", "4": "Package", "5": "Class",
		"6": "Method", "7": "Property", "8": "Field", "9": "Constructor", "10": "Enum",
		"11": "Interface", "12": "Function", "13": "Variable", "14": "Constant", "15": "String",
		"16": "Number", "17": "Boolean", "18": "Array", "19": "Object", "20": "Key",
		"21": "Null", "22": "EnumMember", "23": "Struct", "24": "Event", "25": "Operator",
		"26": "TypeParameter",
	},
	"SymbolTag":                     {"1": "Deprecated"},
	"TextDocumentSyncKind":          {"0": "None", "1": "Full", "2": "Incremental"},
	"InsertTextFormat":              {"1": "PlainText", "2": "Snippet"},
	"InsertTextMode":                {"1": "AsIs", "2": "AdjustIndentation"},
	"CompletionTriggerKind":         {"1": "Invoked", "2": "TriggerCharacter", "3": "TriggerForIncompleteCompletions"},
	"SignatureHelpTriggerKind":      {"1": "Invoked", "2": "TriggerCharacter", "3": "ContentChange"},
	"DocumentHighlightKind":         {"1": "Text", "2": "Read", "3": "Write"},
	"FileChangeType":                {"1": "Created", "2": "Changed", "3": "Deleted"},
	"WatchKind":                     {"1": "Create", "2": "Change", "4": "Delete"},
	"TextDocumentSaveReason":        {"1": "Manual", "2": "AfterDelay", "3": "FocusOut"},
	"CodeActionTriggerKind":         {"1": "Invoked", "2": "Automatic"},
	"InlayHintKind":                 {"1": "Type", "2": "Parameter"},
	"PrepareSupportDefaultBehavior": {"1": "Identifier"},
	"ErrorCodes": {
		"-32700": "ParseError", "-32600": "InvalidRequest", "-32601": "MethodNotFound",
		"-32602": "InvalidParams", "-32603": "InternalError", "-32002": "ServerNotInitialized",
		"-32001": "UnknownErrorCode",
	},
	"LSPErrorCodes": {
		"-32803": "RequestFailed", "-32802": "ServerCancelled",
		"-32801": "ContentModified", "-32800": "RequestCancelled",
	},
	"FoldingRangeKind":     {"comment": "Comment", "imports": "Imports", "region": "Region"},
	"MarkupKind":           {"plaintext": "PlainText", "markdown": "Markdown"},
	"TraceValues":          {"off": "Off", "messages": "Messages", "verbose": "Verbose"},
	"PositionEncodingKind": {"utf-8": "Utf8", "utf-16": "Utf16", "utf-32": "Utf32"},
}
