package ui

// Config contains status view configuration.
type Config struct {
	// Title is shown above the status line, usually the message being spoken.
	Title string

	// QuitOnEnd exits the program when a session ends other than by being
	// superseded.
	QuitOnEnd bool

	ShowMeter   bool `env:"NOVERA_UI_METER" envDefault:"true"`
	ShowHelp    bool `env:"NOVERA_UI_HELP" envDefault:"true"`
	EnableMouse bool `env:"NOVERA_UI_MOUSE" envDefault:"false"`
	MaxWidth    uint `env:"NOVERA_UI_MAX_WIDTH" envDefault:"100"`
	AltScreen   bool `env:"NOVERA_UI_ALT_SCREEN" envDefault:"false"`
}
