package config

const (
	defaultDataDir           = "~/.local/share/portalpilot/data"
	defaultLogDir            = "~/.local/share/portalpilot/logs"
	defaultScreenshotDir     = "~/.local/share/portalpilot/screenshots"
	defaultBrowserDataDir    = "~/.local/share/portalpilot/browser"
	defaultAPIBind           = "127.0.0.1:7488"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 30
	defaultAcceptLanguage    = "tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7"
	defaultWindowWidth       = 1366
	defaultWindowHeight      = 768
	defaultQueueBackend      = "json"
	defaultBackupRetention   = 30
	defaultNtfyTimeout       = 10
	defaultTimeoutShort      = 10
	defaultTimeoutMedium     = 20
	defaultTimeoutLong       = 30
	defaultTimeoutPageLoad   = 60
	defaultLocatorStrategy   = 3
	defaultStopGrace         = 15
	defaultWaitPageLoad      = 2000
	defaultWaitElementClick  = 1000
	defaultWaitPanelSwitch   = 3000
	defaultWaitAfterSubmit   = 2000
	defaultPausePoll         = 1000
	defaultItemDelayMin      = 1000
	defaultItemDelayMax      = 2000
	defaultMaxRetries        = 3
	defaultClickAttempts     = 3
	defaultClickDelay        = 2000
	defaultRetryInitialDelay = 1000
	defaultBackoffMultiplier = 2.0
	defaultRetryMaxDelay     = 30000
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

func defaultPortal() Portal {
	return Portal{
		EntryURL:            "https://mebbis.meb.gov.tr/",
		PanelURLMarkers:     []string{"meb.k12.tr", "mebpanel"},
		SchoolPanelID:       "rptProjeler_ctl03_rptKullanicilar_ctl00_LinkButton1",
		SchoolPanelTarget:   "MEBK12PANEL",
		SchoolPanelFallback: `a[id*="LinkButton"]`,
		PopupCloseSelectors: []string{"button.close", ".modal button.close", `[data-dismiss="modal"]`, ".modal-footer button", `button[title="Kapat"]`},
		ContentLinkID:       "icerik",
		ContentLinkText:     "içerik",
		ContentLinkHref:     "icerik",
		CategoryXPath:       "//a[contains(@href, 'KATEGORINO=517471')]",
		AddContentXPath:     "//a[contains(@href, 'icerik_degistir.php') and contains(@class, 'button green')]",
		TitleInputID:        "BASLIK",
		EndDateXPath:        "/html/body/div[1]/div[3]/div[1]/div[2]/div/form/div/div[2]/table/tbody/tr[3]/td[2]/input",
		EndDateValue:        "31.12.2028",
		ContentSourceID:     "ICERIKKAYNAGI",
		ContentSourceValue:  "1",
		DescriptionID:       "ACIKLAMA",
		TagsID:              "ANAHTAR_KELIMELER",
		ShortContentFrameID: "KISAICERIK_ifr",
		DetailContentFrame:  "ICERIK_ifr",
		EditorBodySelector:  "body#tinymce",
		SubmitButtonID:      "button",
		SuccessXPath:        "//*[contains(text(), 'başarı') or contains(text(), 'eklendi')]",
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:       defaultDataDir,
			LogDir:        defaultLogDir,
			ScreenshotDir: defaultScreenshotDir,
			APIBind:       defaultAPIBind,
		},
		Browser: Browser{
			Headless:       true,
			NoSandbox:      true,
			UserDataDir:    defaultBrowserDataDir,
			WindowWidth:    defaultWindowWidth,
			WindowHeight:   defaultWindowHeight,
			AcceptLanguage: defaultAcceptLanguage,
			UserAgents:     append([]string(nil), defaultUserAgents...),
		},
		Portal: defaultPortal(),
		Timeouts: Timeouts{
			Short:            defaultTimeoutShort,
			Medium:           defaultTimeoutMedium,
			Long:             defaultTimeoutLong,
			PageLoad:         defaultTimeoutPageLoad,
			LocatorStrategy:  defaultLocatorStrategy,
			StopGraceSeconds: defaultStopGrace,
		},
		Waits: Waits{
			PageLoad:     defaultWaitPageLoad,
			ElementClick: defaultWaitElementClick,
			PanelSwitch:  defaultWaitPanelSwitch,
			AfterSubmit:  defaultWaitAfterSubmit,
			PausePoll:    defaultPausePoll,
			ItemDelayMin: defaultItemDelayMin,
			ItemDelayMax: defaultItemDelayMax,
		},
		Retry: Retry{
			MaxRetries:        defaultMaxRetries,
			ClickAttempts:     defaultClickAttempts,
			ClickDelay:        defaultClickDelay,
			InitialDelay:      defaultRetryInitialDelay,
			BackoffMultiplier: defaultBackoffMultiplier,
			MaxDelay:          defaultRetryMaxDelay,
		},
		Queue: Queue{
			Backend:             defaultQueueBackend,
			BackupRetentionDays: defaultBackupRetention,
			BackupOnStart:       true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			Run:            true,
			Confirmations:  true,
			Failures:       true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
